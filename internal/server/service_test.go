package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/beaconctl/internal/agent"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/danmuck/beaconctl/internal/pool"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/danmuck/beaconctl/internal/protocol/schema"
	"github.com/danmuck/beaconctl/internal/protocol/session"
	"github.com/danmuck/beaconctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type beaconService = Service[beacon.Message, *beacon.Message, control.Envelope, *control.Envelope]

type running struct {
	svc    *beaconService
	pool   *pool.Pool
	client *control.Client
	cancel context.CancelFunc
	done   chan error
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataAddr = "127.0.0.1:0"
	cfg.ControlSocket = filepath.Join(t.TempDir(), "ctl.sock")
	cfg.ContentionTimeout = time.Second
	return cfg
}

func startBeacon(t *testing.T, cfg Config) *running {
	t.Helper()
	p := pool.New(nil, "")
	plugin, err := beacon.New(beacon.Options{ServerName: cfg.Name, Pool: p})
	require.NoError(t, err)
	svc, err := New[beacon.Message, *beacon.Message, control.Envelope, *control.Envelope](cfg, plugin)
	require.NoError(t, err)
	svc.WithPoolGauge(p.Len)
	require.NoError(t, svc.Bind())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	r := &running{
		svc:    svc,
		pool:   p,
		client: control.NewClient(cfg.ControlSocket).WithTimeout(2 * time.Second),
		cancel: cancel,
		done:   done,
	}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Errorf("serve did not stop")
		}
	})
	return r
}

func (r *running) waitStopped(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		r.done <- err
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("serve did not stop")
		return nil
	}
}

func udpExchange(t *testing.T, addr *net.UDPAddr, payload []byte, wait time.Duration) ([]byte, error) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload)
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func TestControlPlaneQueueThenList(t *testing.T) {
	testlog.Start(t)
	r := startBeacon(t, testConfig(t))
	ctx := context.Background()

	resp, err := r.client.Queue(ctx, "whoami", "JFK")
	require.NoError(t, err)
	assert.Equal(t, []string{"whoami"}, resp.Commands)

	resp, err = r.client.List(ctx, "JFK")
	require.NoError(t, err)
	assert.Equal(t, []string{"whoami"}, resp.Commands)

	_, err = r.client.Dequeue(ctx, "whoami", "JFK")
	require.NoError(t, err)
	resp, err = r.client.List(ctx, "JFK")
	require.NoError(t, err)
	assert.Empty(t, resp.Commands)
}

func TestControlPlaneConcurrentQueue(t *testing.T) {
	testlog.Start(t)
	r := startBeacon(t, testConfig(t))
	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.client.Queue(context.Background(), fmt.Sprintf("cmd-%d", i), "JFK")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap := r.pool.Snapshot()
	require.Len(t, snap, n)
	seen := map[string]bool{}
	for _, cmd := range snap {
		assert.False(t, seen[cmd.Command], cmd.Command)
		seen[cmd.Command] = true
	}
}

func TestControlPlaneRejectsMalformedInBand(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	startBeacon(t, cfg)

	conn, err := net.Dial("unix", cfg.ControlSocket)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, control.WriteMessage(conn, []byte(`{"origin":"test","request":{"QUEUE":{"command":"","targets":["JFK"]}}}`)))
	raw, err := control.ReadMessage(conn)
	require.NoError(t, err)

	var env control.Envelope
	require.NoError(t, env.Deserialize(raw))
	assert.Nil(t, env.Response)
	assert.Contains(t, env.Error, "command")
}

func TestQuitStopsServeAndRemovesSocket(t *testing.T) {
	testlog.Start(t)
	for _, destroy := range []bool{false, true} {
		t.Run(fmt.Sprintf("destroy=%v", destroy), func(t *testing.T) {
			cfg := testConfig(t)
			r := startBeacon(t, cfg)

			resp, err := r.client.Quit(context.Background(), destroy)
			require.NoError(t, err)
			if destroy {
				assert.Equal(t, pool.ConfirmDestroy, resp.Confirmation)
			} else {
				assert.Equal(t, pool.ConfirmQuiet, resp.Confirmation)
			}

			require.NoError(t, r.waitStopped(t))
			_, err = os.Stat(cfg.ControlSocket)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestQuitWaitsForExchangeAlreadyAccepted(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	r := startBeacon(t, cfg)

	env := control.Generate(control.QueueRequest("whoami", "JFK"))
	payload, err := env.Serialize()
	require.NoError(t, err)
	conn, err := net.Dial("unix", cfg.ControlSocket)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(payload[:10])
	require.NoError(t, err)

	_, err = r.client.Quit(context.Background(), false)
	require.NoError(t, err)
	select {
	case <-r.done:
		t.Fatal("serve returned with a control exchange in flight")
	case <-time.After(150 * time.Millisecond):
	}

	_, err = conn.Write(payload[10:])
	require.NoError(t, err)
	require.NoError(t, control.CloseWrite(conn))
	raw, err := control.ReadMessage(conn)
	require.NoError(t, err)
	var reply control.Envelope
	require.NoError(t, reply.Deserialize(raw))
	require.NotNil(t, reply.Response)
	assert.Empty(t, reply.Error)
	assert.Equal(t, []string{"whoami"}, reply.Response.Commands)

	require.NoError(t, r.waitStopped(t))
}

func TestControlPlaneRejectsContentionInBand(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	cfg.ContentionTimeout = 50 * time.Millisecond
	r := startBeacon(t, cfg)
	ctx := context.Background()

	release, err := r.svc.gate.RLock(ctx)
	require.NoError(t, err)
	_, err = r.client.Queue(ctx, "whoami", "JFK")
	require.ErrorIs(t, err, control.ErrRejected)
	assert.Contains(t, err.Error(), protocol.ErrPoolContention.Error())
	assert.Zero(t, r.pool.Len())

	release()
	_, err = r.client.Queue(ctx, "whoami", "JFK")
	require.NoError(t, err)
	assert.Equal(t, 1, r.pool.Len())
}

func TestAgentConversationOverUDP(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	r := startBeacon(t, cfg)
	ctx := context.Background()
	_, err := r.client.Queue(ctx, "whoami", "JFK")
	require.NoError(t, err)
	_, err = r.client.Queue(ctx, "uptime", "ALL")
	require.NoError(t, err)

	sink := &recordSink{}
	plugin, err := beacon.New(beacon.Options{ServerName: cfg.Name, Target: "JFK", Sink: sink})
	require.NoError(t, err)
	scfg := session.DefaultConfig()
	scfg.ExchangeTimeout = 500 * time.Millisecond
	transport, err := agent.NewUDPTransport(r.svc.DataAddr().String(), scfg)
	require.NoError(t, err)
	rt, err := agent.New[beacon.Message, *beacon.Message, control.Envelope](plugin, transport, scfg)
	require.NoError(t, err)

	n, err := rt.Converse(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"whoami", "uptime"}, sink.commands())
}

func TestOversizedDatagramIsDroppedWithoutReply(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	r := startBeacon(t, cfg)
	addr := r.svc.DataAddr()

	_, err := udpExchange(t, addr, make([]byte, protocol.MaxDatagramBytes+1), 300*time.Millisecond)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())

	agentPlugin, err := beacon.New(beacon.Options{ServerName: cfg.Name, Target: "JFK"})
	require.NoError(t, err)
	hb, err := agentPlugin.GenerateHeartbeat()
	require.NoError(t, err)
	payload, err := protocol.Marshal(hb)
	require.NoError(t, err)
	reply, err := udpExchange(t, addr, payload, time.Second)
	require.NoError(t, err)
	got, err := protocol.Unmarshal[beacon.Message](reply)
	require.NoError(t, err)
	assert.Equal(t, schema.KindReady, got.Kind)
	assert.Equal(t, hb.Sequence, got.Sequence)
	assert.Equal(t, "JFK", got.Destination)
}

func TestGarbageDatagramGetsNoReply(t *testing.T) {
	testlog.Start(t)
	r := startBeacon(t, testConfig(t))
	_, err := udpExchange(t, r.svc.DataAddr(), []byte("garbage"), 300*time.Millisecond)
	assert.Error(t, err)
}

func TestBindRefusesNonSocketFile(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.ControlSocket, []byte("keep"), 0o600))
	p := pool.New(nil, "")
	plugin, err := beacon.New(beacon.Options{Pool: p})
	require.NoError(t, err)
	svc, err := New[beacon.Message, *beacon.Message, control.Envelope, *control.Envelope](cfg, plugin)
	require.NoError(t, err)

	err = svc.Bind()
	assert.ErrorIs(t, err, protocol.ErrTransport)
	b, readErr := os.ReadFile(cfg.ControlSocket)
	require.NoError(t, readErr)
	assert.Equal(t, "keep", string(b))

	assert.ErrorIs(t, svc.Serve(context.Background()), ErrNotBound)
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.ControlSocket = " "
	assert.ErrorIs(t, cfg.Validate(), ErrControlSocketRequired)
	cfg = DefaultConfig()
	cfg.DataAddr = ""
	assert.ErrorIs(t, cfg.Validate(), ErrDataAddrRequired)
	cfg = DefaultConfig()
	cfg.Name = ""
	assert.ErrorIs(t, cfg.Validate(), ErrNameRequired)
}

type recordSink struct {
	mu  sync.Mutex
	got []beacon.Delivery
}

func (s *recordSink) Deliver(d beacon.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return nil
}

func (s *recordSink) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, d := range s.got {
		out = append(out, d.Command)
	}
	return out
}
