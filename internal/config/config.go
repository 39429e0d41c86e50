package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the settings that can be given through the
// environment. Command-line flags override them.
type Config struct {
	Capacity     int           `envconfig:"CAPACITY" default:"512"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"10ms"`
	Engine       string        `envconfig:"ENGINE" default:"step"`
	Log          LogConfig     `envconfig:"LOG"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LEVEL" default:"warn"`
	Development bool   `envconfig:"DEV" default:"false"`
}

// Prefix is prepended to every environment variable name, e.g.
// `PROCPIPE_CAPACITY`.
const Prefix = "procpipe"

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Capacity < 1 {
		return nil, fmt.Errorf("invalid capacity %d: must be at least 1", cfg.Capacity)
	}
	return &cfg, nil
}
