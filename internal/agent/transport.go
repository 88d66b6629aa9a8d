package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/danmuck/beaconctl/internal/protocol/session"
	"github.com/rs/zerolog/log"
)

var ErrServerAddressRequired = errors.New("agent: server address required")

// Transport performs one request/reply exchange.
type Transport interface {
	Exchange(ctx context.Context, payload []byte) ([]byte, error)
}

// UDPTransport sends each request from a fresh socket so a late reply to an earlier
// attempt can never be read as the answer to this one.
type UDPTransport struct {
	addr *net.UDPAddr
	cfg  session.Config
	rng  *rand.Rand
}

func NewUDPTransport(address string, cfg session.Config) (*UDPTransport, error) {
	if strings.TrimSpace(address) == "" {
		return nil, ErrServerAddressRequired
	}
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", protocol.ErrTransport, address, err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &UDPTransport{
		addr: addr,
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Exchange sends payload and waits ExchangeTimeout for a reply, resending up to MaxAttempts times.
func (t *UDPTransport) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	if err := protocol.CheckDatagram(payload); err != nil {
		return nil, err
	}
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := t.sleepBackoff(ctx, attempt-1); err != nil {
				return nil, err
			}
		}
		reply, err := t.once(ctx, payload)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, protocol.ErrPayloadTooLarge) {
			return nil, err
		}
		lastErr = err
		log.Debug().
			Int("attempt", attempt).
			Str("addr", t.addr.String()).
			Err(err).
			Msg("agent.UDPTransport.Exchange retry")
	}
	return nil, fmt.Errorf("%w: %d attempts to %s: %v", protocol.ErrTransport, t.cfg.MaxAttempts, t.addr, lastErr)
}

func (t *UDPTransport) once(ctx context.Context, payload []byte) ([]byte, error) {
	conn, err := net.DialUDP("udp", nil, t.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(t.cfg.ExchangeTimeout)); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	buf := make([]byte, protocol.MaxDatagramBytes+1)
	n, err := conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if err := protocol.CheckDatagram(buf[:n]); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (t *UDPTransport) sleepBackoff(ctx context.Context, attempt int) error {
	return sleepContext(ctx, session.NextBackoffDelay(t.cfg.Backoff, attempt, t.rng))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
