package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/danmuck/beaconctl/internal/config"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/observability"
	"github.com/danmuck/beaconctl/internal/plugins"
	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/danmuck/beaconctl/internal/pool"
	"github.com/danmuck/beaconctl/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "beacond: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envPath string
	cmd := &cobra.Command{
		Use:          "beacond",
		Short:        "Serve queued commands to beacon agents",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(envPath); err != nil {
				return err
			}
			cfg, err := loadDaemonConfig(configPath)
			if err != nil {
				return err
			}
			observability.InitLogger("beacond")
			observability.RegisterMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (toml)")
	cmd.Flags().StringVar(&envPath, "env", ".env", "optional dotenv file")
	return cmd
}

// daemon is one assembled server bound to the named plugin.
type daemon struct {
	pool *pool.Pool
	svc  *server.Service[beacon.Message, *beacon.Message, control.Envelope, *control.Envelope]
}

func assemble(cfg daemonConfig) (*daemon, error) {
	cat := catalog.Default()
	if cfg.Catalog != "" {
		loaded, err := config.LoadCatalog(cfg.Catalog)
		if err != nil {
			return nil, err
		}
		cat = loaded
	}
	p := pool.New(cat, cfg.DequeuePolicy)

	plugin, err := beacon.New(beacon.Options{ServerName: cfg.Server.Name, Pool: p})
	if err != nil {
		return nil, err
	}
	reg := plugins.NewRegistry()
	if err := beacon.Register(reg, plugin); err != nil {
		return nil, err
	}
	bound, err := plugins.Resolve[beacon.Message, control.Envelope](reg, cfg.Plugin)
	if err != nil {
		return nil, err
	}

	svc, err := server.New[beacon.Message, *beacon.Message, control.Envelope, *control.Envelope](cfg.Server, bound)
	if err != nil {
		return nil, err
	}
	svc.WithPoolGauge(p.Len).WithRoutes(observability.Route{Path: "/pool", Handler: poolHandler(p)})
	log.Info().
		Str("plugin", cfg.Plugin).
		Int("targets", cat.Len()).
		Str("dequeue_policy", string(p.Policy())).
		Msg("beacond.assemble")
	return &daemon{pool: p, svc: svc}, nil
}

func run(ctx context.Context, cfg daemonConfig) error {
	d, err := assemble(cfg)
	if err != nil {
		return err
	}
	if err := d.svc.Run(ctx); err != nil {
		return err
	}
	if d.pool.DestroyRequested() {
		log.Warn().Int("commands", d.pool.Len()).Msg("beacond.run destructive teardown, pool discarded")
	}
	return nil
}

func poolHandler(p *pool.Pool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"policy":   p.Policy(),
			"shutdown": p.ShutdownRequested(),
			"commands": p.Snapshot(),
			"targets":  p.Targets(),
		})
	}
}
