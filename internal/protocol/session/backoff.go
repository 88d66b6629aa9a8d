package session

import (
	"math"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		delay = jitter(delay, rng)
	}
	return time.Duration(delay)
}

// IdleDelay is the pause before the next conversation.
// failures counts consecutive failed conversations; each one adds backoff on top of the interval.
func IdleDelay(cfg Config, failures int, rng *rand.Rand) time.Duration {
	delay := float64(cfg.Interval)
	if cfg.IntervalJitter {
		delay = jitter(delay, rng)
	}
	if failures > 0 {
		delay += float64(NextBackoffDelay(cfg.Backoff, failures, rng))
	}
	return time.Duration(delay)
}

// jitter scales d into [0.5d, 1.5d). A nil rng yields the lower bound.
func jitter(d float64, rng *rand.Rand) float64 {
	f := 0.5
	if rng != nil {
		f = 0.5 + rng.Float64()
	}
	return d * f
}
