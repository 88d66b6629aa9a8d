package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/beaconctl/internal/catalog"
	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/danmuck/beaconctl/internal/protocol/session"
	"github.com/joho/godotenv"
)

var (
	ErrTargetRequired     = errors.New("beacon-agent: target required")
	ErrServerAddrRequired = errors.New("beacon-agent: server_addr required")
)

// beacon-agent config.toml key mapping.
type fileConfig struct {
	Target          string `toml:"target"`
	ServerAddr      string `toml:"server_addr"`
	ServerName      string `toml:"server_name"`
	Plugin          string `toml:"plugin"`
	Interval        string `toml:"interval"`
	ExchangeTimeout string `toml:"exchange_timeout"`
	MaxAttempts     int    `toml:"max_attempts"`
	MaxChain        int    `toml:"max_chain"`
	JournalDir      string `toml:"journal_dir"`
}

type agentConfig struct {
	Target     string
	ServerAddr string
	ServerName string
	Plugin     string
	// JournalDir enables the sqlite delivery journal when set.
	JournalDir string
	Session    session.Config
}

func defaultAgentConfig() agentConfig {
	return agentConfig{
		ServerAddr: "127.0.0.1:9999",
		ServerName: beacon.DefaultServerName,
		Plugin:     beacon.Name,
		Session:    session.DefaultConfig(),
	}
}

func (c agentConfig) Validate() error {
	if catalog.NormalizeCode(c.Target) == "" {
		return ErrTargetRequired
	}
	if strings.TrimSpace(c.ServerAddr) == "" {
		return ErrServerAddrRequired
	}
	return c.Session.Validate()
}

func loadAgentConfig(path string) (agentConfig, error) {
	cfg := defaultAgentConfig()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return agentConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return agentConfig{}, err
	}
	cfg.Session = cfg.Session.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return agentConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *agentConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load agent config: %w", err)
	}

	if meta.IsDefined("target") {
		cfg.Target = strings.TrimSpace(raw.Target)
	}
	if meta.IsDefined("server_addr") {
		cfg.ServerAddr = strings.TrimSpace(raw.ServerAddr)
	}
	if meta.IsDefined("server_name") {
		cfg.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("plugin") {
		cfg.Plugin = strings.TrimSpace(raw.Plugin)
	}
	if meta.IsDefined("journal_dir") {
		cfg.JournalDir = strings.TrimSpace(raw.JournalDir)
	}
	if meta.IsDefined("interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Interval))
		if err != nil {
			return fmt.Errorf("parse interval: %w", err)
		}
		cfg.Session.Interval = d
	}
	if meta.IsDefined("exchange_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ExchangeTimeout))
		if err != nil {
			return fmt.Errorf("parse exchange_timeout: %w", err)
		}
		cfg.Session.ExchangeTimeout = d
	}
	if meta.IsDefined("max_attempts") {
		cfg.Session.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("max_chain") {
		cfg.Session.MaxChain = raw.MaxChain
	}
	return nil
}

const envPrefix = "BEACON_AGENT_"

func applyEnv(cfg *agentConfig) error {
	if v, ok := lookupEnv("TARGET"); ok {
		cfg.Target = v
	}
	if v, ok := lookupEnv("SERVER_ADDR"); ok {
		cfg.ServerAddr = v
	}
	if v, ok := lookupEnv("SERVER_NAME"); ok {
		cfg.ServerName = v
	}
	if v, ok := lookupEnv("PLUGIN"); ok {
		cfg.Plugin = v
	}
	if v, ok := lookupEnv("JOURNAL_DIR"); ok {
		cfg.JournalDir = v
	}
	if v, ok := lookupEnv("INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sINTERVAL: %w", envPrefix, err)
		}
		cfg.Session.Interval = d
	}
	if v, ok := lookupEnv("MAX_ATTEMPTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %sMAX_ATTEMPTS: %w", envPrefix, err)
		}
		cfg.Session.MaxAttempts = n
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
