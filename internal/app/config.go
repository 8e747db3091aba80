package app

import (
	"errors"
	"fmt"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// ConfigPath is the experiment configuration file. Overrides are extra
	// layer files merged on top, later files winning.
	ConfigPath string
	Overrides  []string

	// Format selects the configuration adapter: "yaml" or "hcl".
	Format string

	// Resume restarts from a checkpoint instead of initializing fresh.
	// Checkpoint names a specific record; empty means the latest.
	Resume     bool
	Checkpoint string

	LogFormat string
	LogLevel  string
}

// NewConfig validates a Config and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	switch cfg.Format {
	case "":
		cfg.Format = "yaml"
	case "yaml", "hcl":
	default:
		return nil, fmt.Errorf("unsupported config format %q: must be 'yaml' or 'hcl'", cfg.Format)
	}
	if cfg.Checkpoint != "" && !cfg.Resume {
		return nil, errors.New("a checkpoint reference requires resume mode")
	}
	return &cfg, nil
}
