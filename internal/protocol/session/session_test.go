package session

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/danmuck/beaconctl/internal/testutil/testlog"
)

func TestNextBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := NextBackoffDelay(cfg, 1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := NextBackoffDelay(cfg, 6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
}

func TestNextBackoffDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(7))
	got := NextBackoffDelay(cfg, 2, rng)
	if got < 250*time.Millisecond || got >= 750*time.Millisecond {
		t.Fatalf("jitter out of range: %v", got)
	}
}

func TestIdleDelayFixedWithoutJitter(t *testing.T) {
	testlog.Start(t)
	cfg := Config{
		Interval: 5 * time.Second,
		Backoff:  BackoffConfig{InitialDelay: time.Second, Multiplier: 2},
	}
	if got := IdleDelay(cfg, 0, nil); got != 5*time.Second {
		t.Fatalf("idle delay got=%v", got)
	}
	if got := IdleDelay(cfg, 2, nil); got != 7*time.Second {
		t.Fatalf("idle delay after failures got=%v", got)
	}
}

func TestIdleDelayJitterRange(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Interval: 4 * time.Second, IntervalJitter: true}
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 50; i++ {
		got := IdleDelay(cfg, 0, rng)
		if got < 2*time.Second || got >= 6*time.Second {
			t.Fatalf("jittered idle delay out of range: %v", got)
		}
	}
}

func TestConfigWithDefaultsAndValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Interval: time.Second}.WithDefaults()
	if cfg.Interval != time.Second {
		t.Fatalf("explicit interval overwritten: %v", cfg.Interval)
	}
	if cfg.MaxAttempts != DefaultConfig().MaxAttempts || cfg.Backoff != DefaultConfig().Backoff {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	bad := cfg
	bad.MaxAttempts = -1
	if err := bad.Validate(); !errors.Is(err, ErrInvalidAttempts) {
		t.Fatalf("expected ErrInvalidAttempts, got %v", err)
	}
	bad = cfg
	bad.ExchangeTimeout = -time.Second
	if err := bad.Validate(); !errors.Is(err, ErrInvalidExchangeTimeout) {
		t.Fatalf("expected ErrInvalidExchangeTimeout, got %v", err)
	}
}
