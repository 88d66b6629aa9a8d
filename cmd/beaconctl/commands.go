package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/beaconctl/internal/config"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/spf13/cobra"
)

const defaultSocket = "/tmp/beacond.sock"

type globals struct {
	socket  string
	timeout time.Duration
}

func (g *globals) client() *control.Client {
	return control.NewClient(g.socket).WithTimeout(g.timeout)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "beaconctl",
		Short: "Operate a beacond command pool over its control socket",
		Long: `beaconctl sends one control request per invocation to a running beacond and prints
the reply. Targets are catalog codes such as JFK or LHR; ALL addresses every agent.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	socket := defaultSocket
	if v := os.Getenv("BEACOND_CONTROL_SOCKET"); v != "" {
		socket = v
	}
	root.PersistentFlags().StringVarP(&g.socket, "socket", "s", socket, "beacond control socket")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 5*time.Second, "exchange timeout")

	root.AddCommand(
		requestCmd(g, "queue COMMAND TARGET...", "Queue a command for targets", 2,
			func(args []string) control.Request { return control.QueueRequest(args[0], args[1:]...) }),
		requestCmd(g, "dequeue COMMAND TARGET...", "Retract a queued command from targets", 2,
			func(args []string) control.Request { return control.DequeueRequest(args[0], args[1:]...) }),
		requestCmd(g, "lock TARGET...", "Toggle the delivery lock on targets", 1,
			func(args []string) control.Request { return control.LockRequest(args...) }),
		requestCmd(g, "list TARGET...", "List commands queued for targets", 1,
			func(args []string) control.Request { return control.ListRequest(args...) }),
		quitCmd(g),
		configCmd(),
	)
	return root
}

func requestCmd(g *globals, use, short string, minArgs int, build func([]string) control.Request) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(minArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exchange(cmd, g, build(args))
		},
	}
}

func quitCmd(g *globals) *cobra.Command {
	var destroy bool
	cmd := &cobra.Command{
		Use:   "quit",
		Short: "Ask beacond to shut down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return exchange(cmd, g, control.QuitRequest(destroy))
		},
	}
	cmd.Flags().BoolVar(&destroy, "destroy", false, "request destructive teardown")
	return cmd
}

func exchange(cmd *cobra.Command, g *globals, req control.Request) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := g.client().Exchange(ctx, req)
	if err != nil {
		return err
	}
	printResponse(cmd.OutOrStdout(), req.Kind(), resp)
	return nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check configuration files",
	}

	var kind, output string
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config (server, agent or catalog)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = kind + ".toml"
			}
			if err := config.WriteTemplate(output, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s config template to %s\n", kind, output)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "server", "config kind: server|agent|catalog")
	initCmd.Flags().StringVarP(&output, "output", "o", "", "output path (default <kind>.toml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	checkCmd := &cobra.Command{
		Use:   "check-catalog PATH",
		Short: "Validate a target catalog file (toml or yaml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := config.LoadCatalog(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Validated catalog %s: %d targets\n", args[0], cat.Len())
			return nil
		},
	}

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
