// Package agent runs the heartbeat loop: one conversation with the server, an idle delay,
// then a fresh heartbeat. The loop is written once for any plugin binding.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/danmuck/beaconctl/internal/observability"
	"github.com/danmuck/beaconctl/internal/plugins"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/danmuck/beaconctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var (
	ErrChainTooLong     = errors.New("agent: conversation exceeded max chain")
	ErrPluginRequired   = errors.New("agent: plugin required")
	ErrTransportMissing = errors.New("agent: transport required")
)

type Option func(*options)

type options struct {
	name  string
	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
}

// WithName labels logs and metrics, usually with the agent's target code.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithSleep replaces the idle-delay wait.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// Runtime drives one plugin binding over one transport. It is not safe for concurrent Run calls.
type Runtime[M any, PM protocol.Codec[M], S any] struct {
	plugin    plugins.Plugin[M, S]
	transport Transport
	cfg       session.Config
	opts      options
}

func New[M any, PM protocol.Codec[M], S any](
	p plugins.Plugin[M, S],
	t Transport,
	cfg session.Config,
	opts ...Option,
) (*Runtime[M, PM, S], error) {
	if p == nil {
		return nil, ErrPluginRequired
	}
	if t == nil {
		return nil, ErrTransportMissing
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		name:  "agent",
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Runtime[M, PM, S]{plugin: p, transport: t, cfg: cfg, opts: o}, nil
}

// Converse runs one conversation from heartbeat to completion and returns the number of
// request/reply exchanges performed.
func (r *Runtime[M, PM, S]) Converse(ctx context.Context) (int, error) {
	msg, err := r.plugin.GenerateHeartbeat()
	if err != nil {
		return 0, fmt.Errorf("agent: heartbeat: %w", err)
	}
	for n := 1; ; n++ {
		if n > r.cfg.MaxChain {
			return n - 1, fmt.Errorf("%w: %d", ErrChainTooLong, r.cfg.MaxChain)
		}
		out, err := protocol.Marshal[M, PM](msg)
		if err != nil {
			return n - 1, err
		}
		reply, err := r.transport.Exchange(ctx, out)
		if err != nil {
			return n, err
		}
		in, err := protocol.Unmarshal[M, PM](reply)
		if err != nil {
			return n, err
		}
		next, ok, err := r.plugin.AgentRuntime(in)
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		msg = next
	}
}

// Run loops until ctx is cancelled. A failed conversation is logged and adds backoff to the
// next idle delay; it never stops the loop. A conversation stopped by the chain cap is not a
// failure: the plugin picks it up again after the next heartbeat.
func (r *Runtime[M, PM, S]) Run(ctx context.Context) error {
	failures := 0
	for {
		start := time.Now()
		n, err := r.Converse(ctx)
		if ctx.Err() != nil {
			log.Info().Str("agent", r.opts.name).Msg("agent.Runtime.Run stopped")
			return nil
		}
		capped := errors.Is(err, ErrChainTooLong)
		observability.RecordConversation(r.opts.name, n, err == nil || capped)
		switch {
		case capped:
			failures = 0
			log.Info().
				Str("agent", r.opts.name).
				Int("exchanges", n).
				Msg("agent.Runtime.Run chain capped, resuming next conversation")
		case err != nil:
			failures++
			log.Warn().
				Str("agent", r.opts.name).
				Int("exchanges", n).
				Int("failures", failures).
				Err(err).
				Msg("agent.Runtime.Run conversation failed")
		default:
			failures = 0
			log.Debug().
				Str("agent", r.opts.name).
				Int("exchanges", n).
				Dur("took", time.Since(start)).
				Msg("agent.Runtime.Run conversation complete")
		}

		delay := session.IdleDelay(r.cfg, failures, r.opts.rng)
		if err := r.opts.sleep(ctx, delay); err != nil {
			log.Info().Str("agent", r.opts.name).Msg("agent.Runtime.Run stopped")
			return nil
		}
	}
}
