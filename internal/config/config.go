// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends understood by Open in the store packages.
const (
	StoreSQLite = "sqlite"
	StoreBolt   = "bolt"
	StoreMemory = "memory"
)

// Config holds the settings for the sync core and its hosts.
type Config struct {
	DataDir      string `env:"SPIRITLOG_DATA_DIR" envDefault:"./data"`
	StoreBackend string `env:"SPIRITLOG_STORE" envDefault:"sqlite"`

	RemoteURL      string        `env:"SPIRITLOG_REMOTE_URL" envDefault:"http://localhost:8091"`
	RemoteToken    string        `env:"SPIRITLOG_REMOTE_TOKEN"`
	OwnerID        string        `env:"SPIRITLOG_OWNER_ID"`
	RequestTimeout time.Duration `env:"SPIRITLOG_REQUEST_TIMEOUT" envDefault:"30s"`

	ProbeURL      string        `env:"SPIRITLOG_PROBE_URL"`
	ProbeInterval time.Duration `env:"SPIRITLOG_PROBE_INTERVAL" envDefault:"15s"`

	IdleDelay         time.Duration `env:"SPIRITLOG_IDLE_DELAY" envDefault:"2s"`
	PrefetchBatchSize int           `env:"SPIRITLOG_PREFETCH_BATCH" envDefault:"5"`
	PrefetchStaleTime time.Duration `env:"SPIRITLOG_PREFETCH_STALE" envDefault:"0s"`

	ListenAddr string `env:"SPIRITLOG_LISTEN_ADDR" envDefault:"localhost:8090"`
	WatchStore bool   `env:"SPIRITLOG_WATCH_STORE" envDefault:"true"`

	LogLevel string `env:"SPIRITLOG_LOG_LEVEL" envDefault:"INFO"`
	LogFile  string `env:"SPIRITLOG_LOG_FILE"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = strings.TrimRight(cfg.RemoteURL, "/") + "/health"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreSQLite, StoreBolt, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if c.StoreBackend != StoreMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data dir is required for %s store", c.StoreBackend)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive")
	}
	if c.PrefetchBatchSize <= 0 {
		return fmt.Errorf("prefetch batch size must be positive")
	}
	if c.PrefetchStaleTime < 0 {
		return fmt.Errorf("prefetch stale time must not be negative")
	}
	return nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
