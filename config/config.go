// Package config loads pitd settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the server. Command-line flags in cmd/pitd
// default to these values.
type Config struct {
	Listen       string        `env:"LISTEN" envDefault:":8080"`
	ModelsRoot   string        `env:"MODELS_ROOT" envDefault:"models"`
	ArchiveDir   string        `env:"ARCHIVE_DIR"`
	ArchiveFlush int           `env:"ARCHIVE_FLUSH" envDefault:"50"`
	Cpuct        float32       `env:"CPUCT" envDefault:"1.0"`
	BlunderSims  int           `env:"BLUNDER_SIMS" envDefault:"400"`
	Easy         int           `env:"EASY_SIMS" envDefault:"25"`
	Medium       int           `env:"MEDIUM_SIMS" envDefault:"100"`
	Hard         int           `env:"HARD_SIMS" envDefault:"400"`
	Spectators   int           `env:"SPECTATORS" envDefault:"16"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"LOG_FORMAT" envDefault:"console"`
	OnnxSessions int           `env:"ONNX_SESSIONS" envDefault:"1"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"16"`
	BatchTimeout time.Duration `env:"BATCH_TIMEOUT" envDefault:"2ms"`
	WriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	TUI          bool          `env:"TUI" envDefault:"false"`
}

// Prefix is prepended to every variable name.
const Prefix = "PIT_"

// Load parses Config from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Easy <= 0 || c.Medium <= 0 || c.Hard <= 0:
		return fmt.Errorf("difficulty budgets must be positive: %d/%d/%d", c.Easy, c.Medium, c.Hard)
	case c.BlunderSims <= 0:
		return fmt.Errorf("blunder simulations must be positive: %d", c.BlunderSims)
	case c.Cpuct <= 0:
		return fmt.Errorf("cpuct must be positive: %v", c.Cpuct)
	case c.Spectators < 0:
		return fmt.Errorf("spectator capacity must not be negative: %d", c.Spectators)
	case c.OnnxSessions <= 0 || c.BatchSize <= 0:
		return fmt.Errorf("onnx sessions and batch size must be positive")
	case c.ArchiveFlush <= 0:
		return fmt.Errorf("archive flush size must be positive: %d", c.ArchiveFlush)
	}
	return nil
}
