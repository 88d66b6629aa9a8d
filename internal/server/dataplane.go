package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/danmuck/beaconctl/internal/observability"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/rs/zerolog/log"
)

// serveData reads datagrams until ctx ends. Each datagram is answered on its own goroutine,
// to the address it came from, with at most MaxInflight handlers running; a datagram that
// finds no free slot is dropped. The socket closes only after every handler has replied.
func (s *Service[M, PM, S, PS]) serveData(ctx context.Context, conn *net.UDPConn) error {
	var inflight sync.WaitGroup
	defer func() {
		inflight.Wait()
		_ = conn.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, protocol.MaxDatagramBytes+1)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug().Str("name", s.cfg.Name).Msg("server.Service.serveData draining")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("%w: data plane read: %v", protocol.ErrTransport, err)
		}
		if !s.limiter.Allow(addr.IP.String()) {
			observability.RecordDatagram(s.cfg.Name, observability.OutcomeLimited, 0)
			continue
		}
		if err := protocol.CheckDatagram(buf[:n]); err != nil {
			log.Warn().Str("from", addr.String()).Err(err).Msg("server.Service.serveData dropped")
			observability.RecordDatagram(s.cfg.Name, observability.OutcomeDropped, 0)
			continue
		}

		if !s.spawn.TryAcquire(1) {
			log.Debug().Str("from", addr.String()).Msg("server.Service.serveData busy")
			observability.RecordDatagram(s.cfg.Name, observability.OutcomeLimited, 0)
			continue
		}
		datagram := bytes.Clone(buf[:n])
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer s.spawn.Release(1)
			s.handleDatagram(ctx, conn, addr, datagram)
		}()
	}
}

func (s *Service[M, PM, S, PS]) handleDatagram(ctx context.Context, conn *net.UDPConn, addr *net.UDPAddr, datagram []byte) {
	start := time.Now()
	outcome := observability.OutcomeOK
	defer func() {
		observability.RecordDatagram(s.cfg.Name, outcome, time.Since(start))
	}()

	in, err := protocol.Unmarshal[M, PM](datagram)
	if err != nil {
		outcome = observability.OutcomeRejected
		log.Warn().Str("from", addr.String()).Err(err).Msg("server.Service.handleDatagram decode")
		return
	}

	reply, err := s.respond(context.WithoutCancel(ctx), in)
	if err != nil {
		outcome = observability.OutcomeError
		log.Warn().Str("from", addr.String()).Err(err).Msg("server.Service.handleDatagram respond")
		return
	}

	out, err := protocol.Marshal[M, PM](reply)
	if err != nil {
		outcome = observability.OutcomeError
		log.Error().Str("from", addr.String()).Err(err).Msg("server.Service.handleDatagram encode")
		return
	}
	if _, err := conn.WriteToUDP(out, addr); err != nil {
		outcome = observability.OutcomeError
		log.Warn().Str("to", addr.String()).Err(err).Msg("server.Service.handleDatagram write")
	}
}

// respond runs the plugin step under a shared read view of plugin state.
func (s *Service[M, PM, S, PS]) respond(ctx context.Context, in M) (M, error) {
	release, err := s.gate.RLock(ctx)
	if err != nil {
		var zero M
		return zero, err
	}
	defer release()
	return s.plugin.ServerRuntime(in)
}
