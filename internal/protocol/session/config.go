package session

import (
	"errors"
	"time"
)

var (
	ErrInvalidExchangeTimeout = errors.New("session: exchange timeout must be positive")
	ErrInvalidAttempts        = errors.New("session: max attempts must be at least 1")
	ErrInvalidInterval        = errors.New("session: interval must be positive")
	ErrInvalidMaxChain        = errors.New("session: max chain must be at least 1")
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines agent exchange reliability and conversation pacing.
type Config struct {
	// ExchangeTimeout bounds the wait for one reply datagram.
	ExchangeTimeout time.Duration
	// MaxAttempts is the number of sends per exchange before it fails.
	MaxAttempts int
	// Interval is the idle delay between conversations.
	Interval       time.Duration
	IntervalJitter bool
	// MaxChain caps request/reply exchanges in one conversation, heartbeat included.
	MaxChain int
	Backoff  BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ExchangeTimeout: 2 * time.Second,
		MaxAttempts:     3,
		Interval:        5 * time.Second,
		IntervalJitter:  true,
		MaxChain:        64,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     30 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = def.ExchangeTimeout
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	if c.MaxChain == 0 {
		c.MaxChain = def.MaxChain
	}
	if c.Backoff == (BackoffConfig{}) {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.ExchangeTimeout <= 0 {
		return ErrInvalidExchangeTimeout
	}
	if c.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if c.Interval <= 0 {
		return ErrInvalidInterval
	}
	if c.MaxChain < 1 {
		return ErrInvalidMaxChain
	}
	return nil
}
