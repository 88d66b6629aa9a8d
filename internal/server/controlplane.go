package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/observability"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// refuser is a system message that can carry a failure back to the caller.
type refuser interface {
	Refuse(origin string, err error)
}

// serveControl accepts one exchange per connection until ctx ends, then waits for
// exchanges already accepted.
func (s *Service[M, PM, S, PS]) serveControl(ctx context.Context, ln net.Listener, shutdown context.CancelFunc) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var active sync.WaitGroup
	defer active.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: control plane accept: %v", protocol.ErrTransport, err)
		}
		active.Add(1)
		go func() {
			defer active.Done()
			s.handleControl(ctx, conn, shutdown)
		}()
	}
}

// handleControl reads the request to end of stream, applies it under exclusive access,
// writes the reply and closes. Shutdown is checked once the exchange is complete.
func (s *Service[M, PM, S, PS]) handleControl(ctx context.Context, conn net.Conn, shutdown context.CancelFunc) {
	defer conn.Close()
	kind, outcome := "", observability.OutcomeOK
	defer func() {
		observability.RecordControlExchange(s.cfg.Name, kind, outcome)
	}()
	_ = conn.SetDeadline(time.Now().Add(s.cfg.ControlTimeout))

	b, err := control.ReadMessage(conn)
	if err != nil {
		outcome = observability.OutcomeRejected
		log.Warn().Err(err).Msg("server.Service.handleControl read")
		return
	}
	in, err := protocol.Unmarshal[S, PS](b)
	if err != nil {
		outcome = observability.OutcomeRejected
		log.Warn().Err(err).Msg("server.Service.handleControl decode")
		return
	}
	if k, ok := any(in).(interface{ RequestKind() string }); ok {
		kind = k.RequestKind()
	}

	exchangeCtx, cancel := s.exchangeContext(ctx, s.cfg.ControlTimeout)
	defer cancel()
	out, err := s.apply(exchangeCtx, in)
	if err != nil {
		outcome = observability.OutcomeError
		log.Warn().Str("kind", kind).Err(err).Msg("server.Service.handleControl apply")
		r, ok := any(PS(&out)).(refuser)
		if !ok {
			return
		}
		r.Refuse(s.cfg.Name, err)
	}

	reply, err := protocol.Marshal[S, PS](out)
	if err != nil {
		outcome = observability.OutcomeError
		log.Error().Str("kind", kind).Err(err).Msg("server.Service.handleControl encode")
		return
	}
	if err := control.WriteMessage(conn, reply); err != nil {
		outcome = observability.OutcomeError
		log.Warn().Str("kind", kind).Err(err).Msg("server.Service.handleControl write")
	}
	if s.poolGauge != nil {
		observability.SetPoolCommands(s.cfg.Name, s.poolGauge())
	}
	log.Debug().Str("kind", kind).Msg("server.Service.handleControl done")

	down, err := s.plugin.ShutdownCheck()
	if err != nil {
		log.Warn().Err(err).Msg("server.Service.handleControl shutdown check")
		return
	}
	if down {
		log.Info().Str("name", s.cfg.Name).Str("kind", kind).Msg("server.Service.handleControl shutdown requested")
		shutdown()
	}
}

// apply runs the pool handler with every reader slot held.
func (s *Service[M, PM, S, PS]) apply(ctx context.Context, in S) (S, error) {
	release, err := s.gate.Lock(ctx)
	if err != nil {
		var zero S
		return zero, err
	}
	defer release()
	return s.plugin.PoolHandler(in)
}
