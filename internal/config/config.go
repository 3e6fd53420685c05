// Package config loads process configuration for the simrun command.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process configuration. Every field can be set from the
// environment; command-line flags override it.
type Config struct {
	Capacity         int           `env:"SIMRUN_CAPACITY" envDefault:"4"`
	PollInterval     time.Duration `env:"SIMRUN_POLL_INTERVAL" envDefault:"100ms"`
	ShutdownTimeout  time.Duration `env:"SIMRUN_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel         string        `env:"SIMRUN_LOG_LEVEL" envDefault:"INFO"`
	LogFormat        string        `env:"SIMRUN_LOG_FORMAT" envDefault:"CONSOLE"`
	HTTPAddr         string        `env:"SIMRUN_HTTP_ADDR"`
	JournalPath      string        `env:"SIMRUN_JOURNAL_PATH"`
	MetricsNamespace string        `env:"SIMRUN_METRICS_NAMESPACE" envDefault:"simrunner"`
	SnapshotInterval time.Duration `env:"SIMRUN_SNAPSHOT_INTERVAL" envDefault:"1s"`
	CORSOrigins      []string      `env:"SIMRUN_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
	OTelEndpoint     string        `env:"SIMRUN_OTEL_ENDPOINT"`
	OTelEnabled      bool          `env:"SIMRUN_OTEL_ENABLED" envDefault:"true"`
}

// Load parses Config from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c *Config) Validate() error {
	if c.Capacity < 1 || c.Capacity > 10000 {
		return fmt.Errorf("SIMRUN_CAPACITY %d out of range [1, 10000]", c.Capacity)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("SIMRUN_POLL_INTERVAL %v must be positive", c.PollInterval)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SIMRUN_SHUTDOWN_TIMEOUT %v must be positive", c.ShutdownTimeout)
	}
	return nil
}
