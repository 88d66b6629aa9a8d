// Package server runs the resident side: a datagram data plane answering agents and a
// unix-socket control plane mutating the shared pool, both over one plugin binding.
//
// A control exchange that leaves the plugin reporting shutdown cancels a context shared by
// every loop. The data plane stops reading, finishes in-flight replies, then closes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/beaconctl/internal/observability"
	"github.com/danmuck/beaconctl/internal/plugins"
	"github.com/danmuck/beaconctl/internal/protocol"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

var (
	ErrNameRequired          = errors.New("server: name required")
	ErrDataAddrRequired      = errors.New("server: data address required")
	ErrControlSocketRequired = errors.New("server: control socket required")
	ErrNotBound              = errors.New("server: sockets not bound")
	ErrAlreadyBound          = errors.New("server: sockets already bound")
)

type Config struct {
	Name          string
	DataAddr      string
	ControlSocket string
	// MetricsAddr enables the ops HTTP endpoint when set.
	MetricsAddr string

	// ContentionTimeout bounds every wait for the reader/writer gate.
	ContentionTimeout time.Duration
	// MaxInflight caps concurrently processed datagrams and sizes the reader side of the gate.
	MaxInflight int64
	// ControlTimeout bounds one control-plane exchange.
	ControlTimeout time.Duration

	RateLimit float64
	RateBurst int
}

func DefaultConfig() Config {
	return Config{
		Name:              "beacond",
		DataAddr:          "127.0.0.1:9999",
		ControlSocket:     "/tmp/beacond.sock",
		ContentionTimeout: 2 * time.Second,
		MaxInflight:       256,
		ControlTimeout:    30 * time.Second,
		RateLimit:         0,
		RateBurst:         20,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ContentionTimeout == 0 {
		c.ContentionTimeout = def.ContentionTimeout
	}
	if c.MaxInflight <= 0 {
		c.MaxInflight = def.MaxInflight
	}
	if c.ControlTimeout == 0 {
		c.ControlTimeout = def.ControlTimeout
	}
	if c.RateBurst == 0 {
		c.RateBurst = def.RateBurst
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if strings.TrimSpace(c.DataAddr) == "" {
		return ErrDataAddrRequired
	}
	if strings.TrimSpace(c.ControlSocket) == "" {
		return ErrControlSocketRequired
	}
	return nil
}

// Service is generic over the data-plane message M and control-plane message S.
type Service[M any, PM protocol.Codec[M], S any, PS protocol.Codec[S]] struct {
	cfg     Config
	plugin  plugins.Plugin[M, S]
	gate    *Gate
	spawn   *semaphore.Weighted
	limiter *Limiter

	routes    []observability.Route
	poolGauge func() int

	mu      sync.Mutex
	data    *net.UDPConn
	control net.Listener
	ops     net.Listener
}

func New[M any, PM protocol.Codec[M], S any, PS protocol.Codec[S]](
	cfg Config,
	p plugins.Plugin[M, S],
) (*Service[M, PM, S, PS], error) {
	if p == nil {
		return nil, errors.New("server: plugin required")
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service[M, PM, S, PS]{
		cfg:     cfg,
		plugin:  p,
		gate:    NewGate(cfg.MaxInflight, cfg.ContentionTimeout),
		spawn:   semaphore.NewWeighted(cfg.MaxInflight),
		limiter: NewLimiter(cfg.RateLimit, cfg.RateBurst),
	}, nil
}

// WithRoutes mounts extra read-only endpoints on the ops router.
func (s *Service[M, PM, S, PS]) WithRoutes(routes ...observability.Route) *Service[M, PM, S, PS] {
	s.routes = append(s.routes, routes...)
	return s
}

// WithPoolGauge reports the pool size after every control exchange.
func (s *Service[M, PM, S, PS]) WithPoolGauge(fn func() int) *Service[M, PM, S, PS] {
	s.poolGauge = fn
	return s
}

// Run binds both planes and serves until ctx ends or a control exchange requests shutdown.
// Bind failures are returned before any loop starts.
func (s *Service[M, PM, S, PS]) Run(ctx context.Context) error {
	if err := s.Bind(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Bind opens every socket without serving.
func (s *Service[M, PM, S, PS]) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		return ErrAlreadyBound
	}

	addr, err := net.ResolveUDPAddr("udp", s.cfg.DataAddr)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %v", protocol.ErrTransport, s.cfg.DataAddr, err)
	}
	data, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("%w: bind data plane %s: %v", protocol.ErrTransport, s.cfg.DataAddr, err)
	}

	if err := removeStaleSocket(s.cfg.ControlSocket); err != nil {
		_ = data.Close()
		return err
	}
	control, err := net.Listen("unix", s.cfg.ControlSocket)
	if err != nil {
		_ = data.Close()
		return fmt.Errorf("%w: bind control plane %s: %v", protocol.ErrTransport, s.cfg.ControlSocket, err)
	}

	var ops net.Listener
	if strings.TrimSpace(s.cfg.MetricsAddr) != "" {
		ops, err = net.Listen("tcp", s.cfg.MetricsAddr)
		if err != nil {
			_ = data.Close()
			_ = control.Close()
			return fmt.Errorf("%w: bind ops %s: %v", protocol.ErrTransport, s.cfg.MetricsAddr, err)
		}
	}

	s.data, s.control, s.ops = data, control, ops
	log.Info().
		Str("name", s.cfg.Name).
		Str("data", data.LocalAddr().String()).
		Str("control", s.cfg.ControlSocket).
		Str("ops", s.cfg.MetricsAddr).
		Msg("server.Service.Bind")
	return nil
}

// removeStaleSocket clears a socket file left by an earlier process. Other files are refused.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", protocol.ErrTransport, path, err)
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%w: %s exists and is not a socket", protocol.ErrTransport, path)
	}
	return os.Remove(path)
}

// DataAddr is the bound data-plane address, or nil before Bind.
func (s *Service[M, PM, S, PS]) DataAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	return s.data.LocalAddr().(*net.UDPAddr)
}

func (s *Service[M, PM, S, PS]) OpsAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ops == nil {
		return nil
	}
	return s.ops.Addr()
}

func (s *Service[M, PM, S, PS]) ControlSocket() string {
	return s.cfg.ControlSocket
}

// Serve runs every loop on bound sockets. It returns nil on cancellation or a requested
// shutdown, after in-flight exchanges have finished.
func (s *Service[M, PM, S, PS]) Serve(ctx context.Context) error {
	s.mu.Lock()
	data, control, ops := s.data, s.control, s.ops
	s.mu.Unlock()
	if data == nil {
		return ErrNotBound
	}
	defer func() { _ = os.Remove(s.cfg.ControlSocket) }()

	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.serveData(gctx, data) })
	g.Go(func() error { return s.serveControl(gctx, control, shutdown) })
	g.Go(func() error { return s.resetLimiter(gctx) })
	if ops != nil {
		g.Go(func() error { return s.serveOps(gctx, ops) })
	}

	err := g.Wait()
	log.Info().Str("name", s.cfg.Name).Err(err).Msg("server.Service.Serve stopped")
	return err
}

func (s *Service[M, PM, S, PS]) resetLimiter(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.limiter.Reset()
		}
	}
}

func (s *Service[M, PM, S, PS]) serveOps(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           observability.NewRouter(s.cfg.Name, log.Logger, s.routes...),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%w: ops: %v", protocol.ErrTransport, err)
	}
	return nil
}

// exchangeContext survives the shutdown broadcast so an exchange already in progress can
// finish, but still bounds the gate wait.
func (s *Service[M, PM, S, PS]) exchangeContext(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
