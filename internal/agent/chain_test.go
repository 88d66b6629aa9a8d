package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/danmuck/beaconctl/internal/pool"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/danmuck/beaconctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverTransport answers each datagram with a beacon server step, through the wire codec.
type serverTransport struct {
	server *beacon.Plugin
}

func (t *serverTransport) Exchange(_ context.Context, payload []byte) ([]byte, error) {
	in, err := protocol.Unmarshal[beacon.Message](payload)
	if err != nil {
		return nil, err
	}
	reply, err := t.server.ServerRuntime(in)
	if err != nil {
		return nil, err
	}
	return protocol.Marshal(reply)
}

type memorySink struct {
	mu  sync.Mutex
	got []string
}

func (s *memorySink) Deliver(d beacon.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d.Command)
	return nil
}

func TestCappedConversationsResumeUntilEveryCommandDelivered(t *testing.T) {
	testlog.Start(t)
	p := pool.New(nil, "")
	queued := []string{}
	for i := 0; i < 6; i++ {
		cmd := fmt.Sprintf("c%d", i)
		queued = append(queued, cmd)
		_, err := p.Handle(control.QueueRequest(cmd, "JFK"))
		require.NoError(t, err)
	}
	server, err := beacon.New(beacon.Options{Pool: p})
	require.NoError(t, err)
	sink := &memorySink{}
	agentPlugin, err := beacon.New(beacon.Options{Target: "JFK", Sink: sink})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MaxChain = 4
	rt, err := New[beacon.Message, *beacon.Message, control.Envelope](agentPlugin, &serverTransport{server: server}, cfg)
	require.NoError(t, err)

	// heartbeat + three fetches per capped conversation
	for i := 0; i < 2; i++ {
		n, err := rt.Converse(context.Background())
		assert.ErrorIs(t, err, ErrChainTooLong)
		assert.Equal(t, 4, n)
	}
	assert.Equal(t, queued, sink.got)

	// caught up: heartbeat, then a fetch after the last command answers done
	n, err := rt.Converse(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, queued, sink.got)
}

func TestCappedConversationDoesNotBackOff(t *testing.T) {
	testlog.Start(t)
	events := []string{}
	cfg := testConfig()
	cfg.MaxChain = 2
	plugin := &scripted{events: &events, script: []bool{true, true, true, true, true, true}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	delays := []time.Duration{}
	sleep := func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	rt, err := New[step, *step, string](plugin, &echoTransport{events: &events}, cfg, WithSleep(sleep))
	require.NoError(t, err)
	require.NoError(t, rt.Run(ctx))
	assert.Equal(t, []time.Duration{cfg.Interval, cfg.Interval, cfg.Interval}, delays)
}
