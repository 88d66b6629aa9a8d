package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/beaconctl/internal/agent"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/journal"
	"github.com/danmuck/beaconctl/internal/observability"
	"github.com/danmuck/beaconctl/internal/plugins"
	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "beacon-agent: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, envPath string
	var once bool
	cmd := &cobra.Command{
		Use:          "beacon-agent",
		Short:        "Poll a beacond server and record delivered commands",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadDotEnv(envPath); err != nil {
				return err
			}
			cfg, err := loadAgentConfig(configPath)
			if err != nil {
				return err
			}
			observability.InitLogger("beacon-agent")
			observability.RegisterMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := assemble(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if once {
				n, err := a.runtime.Converse(ctx)
				log.Info().Int("exchanges", n).Err(err).Msg("beacon-agent.once")
				return err
			}
			return a.runtime.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (toml)")
	cmd.Flags().StringVar(&envPath, "env", ".env", "optional dotenv file")
	cmd.Flags().BoolVar(&once, "once", false, "run a single conversation and exit")
	return cmd
}

type agentProcess struct {
	runtime *agent.Runtime[beacon.Message, *beacon.Message, control.Envelope]
	journal *journal.Store
}

func assemble(cfg agentConfig) (*agentProcess, error) {
	proc := &agentProcess{}
	sinks := beacon.MultiSink{beacon.LogSink{Logger: log.Logger}}
	if cfg.JournalDir != "" {
		store, err := journal.Open(cfg.JournalDir)
		if err != nil {
			return nil, err
		}
		proc.journal = store
		sinks = append(sinks, store)
	}

	plugin, err := beacon.New(beacon.Options{
		ServerName: cfg.ServerName,
		Target:     cfg.Target,
		Sink:       sinks,
	})
	if err != nil {
		proc.Close()
		return nil, err
	}
	reg := plugins.NewRegistry()
	if err := beacon.Register(reg, plugin); err != nil {
		proc.Close()
		return nil, err
	}
	bound, err := plugins.Resolve[beacon.Message, control.Envelope](reg, cfg.Plugin)
	if err != nil {
		proc.Close()
		return nil, err
	}

	transport, err := agent.NewUDPTransport(cfg.ServerAddr, cfg.Session)
	if err != nil {
		proc.Close()
		return nil, err
	}
	rt, err := agent.New[beacon.Message, *beacon.Message, control.Envelope](
		bound, transport, cfg.Session, agent.WithName(cfg.Target),
	)
	if err != nil {
		proc.Close()
		return nil, err
	}
	proc.runtime = rt
	log.Info().
		Str("target", cfg.Target).
		Str("server", cfg.ServerAddr).
		Str("journal", cfg.JournalDir).
		Msg("beacon-agent.assemble")
	return proc, nil
}

func (a *agentProcess) Close() {
	if a.journal != nil {
		_ = a.journal.Close()
	}
}
