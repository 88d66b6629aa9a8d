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
	"github.com/danmuck/beaconctl/internal/plugins/beacon"
	"github.com/danmuck/beaconctl/internal/pool"
	"github.com/danmuck/beaconctl/internal/server"
	"github.com/joho/godotenv"
)

// beacond config.toml key mapping.
type fileConfig struct {
	Name              string  `toml:"name"`
	Plugin            string  `toml:"plugin"`
	DataAddr          string  `toml:"data_addr"`
	ControlSocket     string  `toml:"control_socket"`
	MetricsAddr       string  `toml:"metrics_addr"`
	Catalog           string  `toml:"catalog"`
	DequeuePolicy     string  `toml:"dequeue_policy"`
	ContentionTimeout string  `toml:"contention_timeout"`
	ControlTimeout    string  `toml:"control_timeout"`
	MaxInflight       int64   `toml:"max_inflight"`
	RateLimit         float64 `toml:"rate_limit"`
	RateBurst         int     `toml:"rate_burst"`
}

type daemonConfig struct {
	Server        server.Config
	Plugin        string
	Catalog       string
	DequeuePolicy pool.DequeuePolicy
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Server:        server.DefaultConfig(),
		Plugin:        beacon.Name,
		DequeuePolicy: pool.DefaultDequeuePolicy,
	}
}

// loadDaemonConfig overlays the optional file, then BEACOND_* variables, onto defaults.
func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()
	if strings.TrimSpace(path) != "" {
		if err := applyFile(&cfg, path); err != nil {
			return daemonConfig{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return daemonConfig{}, err
	}
	cfg.Server = cfg.Server.WithDefaults()
	if err := cfg.Server.Validate(); err != nil {
		return daemonConfig{}, err
	}
	return cfg, nil
}

func applyFile(cfg *daemonConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load beacond config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Server.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("plugin") {
		cfg.Plugin = strings.TrimSpace(raw.Plugin)
	}
	if meta.IsDefined("data_addr") {
		cfg.Server.DataAddr = strings.TrimSpace(raw.DataAddr)
	}
	if meta.IsDefined("control_socket") {
		cfg.Server.ControlSocket = strings.TrimSpace(raw.ControlSocket)
	}
	if meta.IsDefined("metrics_addr") {
		cfg.Server.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("catalog") {
		cfg.Catalog = strings.TrimSpace(raw.Catalog)
	}
	if meta.IsDefined("dequeue_policy") {
		policy, err := pool.ParseDequeuePolicy(raw.DequeuePolicy)
		if err != nil {
			return fmt.Errorf("parse dequeue_policy: %w", err)
		}
		cfg.DequeuePolicy = policy
	}
	if meta.IsDefined("contention_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ContentionTimeout))
		if err != nil {
			return fmt.Errorf("parse contention_timeout: %w", err)
		}
		cfg.Server.ContentionTimeout = d
	}
	if meta.IsDefined("control_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.ControlTimeout))
		if err != nil {
			return fmt.Errorf("parse control_timeout: %w", err)
		}
		cfg.Server.ControlTimeout = d
	}
	if meta.IsDefined("max_inflight") {
		cfg.Server.MaxInflight = raw.MaxInflight
	}
	if meta.IsDefined("rate_limit") {
		cfg.Server.RateLimit = raw.RateLimit
	}
	if meta.IsDefined("rate_burst") {
		cfg.Server.RateBurst = raw.RateBurst
	}
	return nil
}

const envPrefix = "BEACOND_"

func applyEnv(cfg *daemonConfig) error {
	if v, ok := lookupEnv("NAME"); ok {
		cfg.Server.Name = v
	}
	if v, ok := lookupEnv("PLUGIN"); ok {
		cfg.Plugin = v
	}
	if v, ok := lookupEnv("DATA_ADDR"); ok {
		cfg.Server.DataAddr = v
	}
	if v, ok := lookupEnv("CONTROL_SOCKET"); ok {
		cfg.Server.ControlSocket = v
	}
	if v, ok := lookupEnv("METRICS_ADDR"); ok {
		cfg.Server.MetricsAddr = v
	}
	if v, ok := lookupEnv("CATALOG"); ok {
		cfg.Catalog = v
	}
	if v, ok := lookupEnv("DEQUEUE_POLICY"); ok {
		policy, err := pool.ParseDequeuePolicy(v)
		if err != nil {
			return fmt.Errorf("parse %sDEQUEUE_POLICY: %w", envPrefix, err)
		}
		cfg.DequeuePolicy = policy
	}
	if v, ok := lookupEnv("CONTENTION_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %sCONTENTION_TIMEOUT: %w", envPrefix, err)
		}
		cfg.Server.ContentionTimeout = d
	}
	if v, ok := lookupEnv("RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %sRATE_LIMIT: %w", envPrefix, err)
		}
		cfg.Server.RateLimit = f
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

// loadDotEnv reads path into the environment when it exists. Set variables win.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}
