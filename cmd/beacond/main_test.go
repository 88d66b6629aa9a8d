package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/beaconctl/internal/control"
	"github.com/danmuck/beaconctl/internal/pool"
	"github.com/danmuck/beaconctl/internal/testutil/testlog"
)

func TestRunStopsOnQuit(t *testing.T) {
	testlog.Start(t)
	cfg := defaultDaemonConfig()
	cfg.Server.DataAddr = "127.0.0.1:0"
	cfg.Server.ControlSocket = filepath.Join(t.TempDir(), "beacond.sock")

	done := make(chan error, 1)
	go func() { done <- run(context.Background(), cfg) }()

	client := control.NewClient(cfg.Server.ControlSocket).WithTimeout(time.Second)
	var resp control.Response
	var err error
	for i := 0; i < 50; i++ {
		resp, err = client.Quit(context.Background(), true)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if resp.Confirmation != pool.ConfirmDestroy {
		t.Fatalf("unexpected confirmation: %q", resp.Confirmation)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not stop")
	}
	if _, err := net.Dial("unix", cfg.Server.ControlSocket); err == nil {
		t.Fatalf("control socket still accepting")
	}
}
