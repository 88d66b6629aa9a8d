package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/beaconctl/internal/protocol/session"
	"github.com/danmuck/beaconctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAgentConfigDefaultsAndOverrides(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
target = "lhr"
server_addr = "10.0.0.5:9999"
interval = "30s"
exchange_timeout = "500ms"
max_attempts = 5
max_chain = 8
journal_dir = "local/agent"
`)

	cfg, err := loadAgentConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Target != "lhr" {
		t.Fatalf("unexpected target: %q", cfg.Target)
	}
	if cfg.ServerAddr != "10.0.0.5:9999" {
		t.Fatalf("unexpected server addr: %q", cfg.ServerAddr)
	}
	if cfg.ServerName != "beacond" {
		t.Fatalf("unexpected server name: %q", cfg.ServerName)
	}
	if cfg.Session.Interval != 30*time.Second {
		t.Fatalf("unexpected interval: %v", cfg.Session.Interval)
	}
	if cfg.Session.ExchangeTimeout != 500*time.Millisecond {
		t.Fatalf("unexpected exchange timeout: %v", cfg.Session.ExchangeTimeout)
	}
	if cfg.Session.MaxAttempts != 5 || cfg.Session.MaxChain != 8 {
		t.Fatalf("unexpected limits: attempts=%d chain=%d", cfg.Session.MaxAttempts, cfg.Session.MaxChain)
	}
	if cfg.JournalDir != "local/agent" {
		t.Fatalf("unexpected journal dir: %q", cfg.JournalDir)
	}
}

func TestLoadAgentConfigRequiresTarget(t *testing.T) {
	testlog.Start(t)
	_, err := loadAgentConfig(writeConfig(t, `server_addr = "127.0.0.1:9999"`))
	if !errors.Is(err, ErrTargetRequired) {
		t.Fatalf("expected ErrTargetRequired, got %v", err)
	}
}

func TestLoadAgentConfigEnvWins(t *testing.T) {
	testlog.Start(t)
	t.Setenv("BEACON_AGENT_TARGET", "SYD")
	t.Setenv("BEACON_AGENT_MAX_ATTEMPTS", "7")

	cfg, err := loadAgentConfig(writeConfig(t, `target = "JFK"`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Target != "SYD" {
		t.Fatalf("unexpected target: %q", cfg.Target)
	}
	if cfg.Session.MaxAttempts != 7 {
		t.Fatalf("unexpected attempts: %d", cfg.Session.MaxAttempts)
	}
}

func TestLoadAgentConfigRejectsNegativeAttempts(t *testing.T) {
	testlog.Start(t)
	_, err := loadAgentConfig(writeConfig(t, "target = \"JFK\"\nmax_attempts = -1\n"))
	if !errors.Is(err, session.ErrInvalidAttempts) {
		t.Fatalf("expected ErrInvalidAttempts, got %v", err)
	}
}
