package main

import (
	"fmt"
	"io"

	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/danmuck/beaconctl/internal/control"
	"github.com/fatih/color"
)

func printResponse(w io.Writer, kind string, resp control.Response) {
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	green.Fprintf(w, "%s: %s\n", kind, resp.Confirmation)
	if len(resp.Commands) > 0 {
		cyan.Fprintln(w, "  Commands")
		for i, c := range resp.Commands {
			fmt.Fprintf(w, "  %3d  %s\n", i, c)
		}
	}
	if len(resp.Targets) > 0 {
		cyan.Fprintln(w, "  Targets")
		for _, t := range resp.Targets {
			printTarget(w, t)
		}
	}
}

func printTarget(w io.Writer, t catalog.Target) {
	line := fmt.Sprintf("  %-4s %-4d %-28s %s", t.Code, t.Number, t.Name, t.Location)
	if t.Locked {
		color.New(color.FgYellow).Fprintf(w, "%s  [locked]\n", line)
		return
	}
	fmt.Fprintln(w, line)
}
