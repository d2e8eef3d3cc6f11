// Package config holds process-wide configuration for the replay/stream
// engine, loaded the way ws/config.go loads it in the teacher repo: env vars
// with struct-tag defaults, an optional .env file, and explicit validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the process-level configuration surface spec.md §6 describes
// (endpoint, cacheDir, apiKey) plus the fetch worker's resource tuning.
//
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Public surface (spec.md §6)
	Endpoint string `env:"TARDIS_ENDPOINT" envDefault:"https://tardis.dev/api"`
	CacheDir string `env:"TARDIS_CACHE_DIR" envDefault:""`
	APIKey   string `env:"TARDIS_API_KEY" envDefault:""`

	// Fetch worker concurrency and resource limits
	MaxConcurrentFetches int     `env:"TARDIS_MAX_CONCURRENT_FETCHES" envDefault:"8"`
	MaxFetchRatePerSec   int     `env:"TARDIS_MAX_FETCH_RATE" envDefault:"20"`
	CPUPauseThreshold    float64 `env:"TARDIS_CPU_PAUSE_THRESHOLD" envDefault:"85.0"`

	// Replay driver. Loaded, validated and logged only: cmd/tardis does not
	// pass it on, so the driver polls at its own 100ms default.
	SlicePollInterval time.Duration `env:"TARDIS_SLICE_POLL_INTERVAL" envDefault:"100ms"`

	// Logging
	LogLevel  string `env:"TARDIS_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TARDIS_LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from a .env file (if present) and the
// environment. Priority: env vars > .env file > struct defaults, exactly as
// ws/config.go's LoadConfig documents.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(os.TempDir(), ".tardis-cache")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Info().Msg("configuration loaded and validated successfully")
	}
	return cfg, nil
}

// Validate checks configuration for internally inconsistent or out-of-range
// values, mirroring ws/config.go's Validate.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("TARDIS_ENDPOINT is required")
	}
	if !filepath.IsAbs(c.CacheDir) {
		return fmt.Errorf("TARDIS_CACHE_DIR must be an absolute path, got %q", c.CacheDir)
	}
	if c.MaxConcurrentFetches < 1 {
		return fmt.Errorf("TARDIS_MAX_CONCURRENT_FETCHES must be > 0, got %d", c.MaxConcurrentFetches)
	}
	if c.MaxFetchRatePerSec < 1 {
		return fmt.Errorf("TARDIS_MAX_FETCH_RATE must be > 0, got %d", c.MaxFetchRatePerSec)
	}
	if c.CPUPauseThreshold <= 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("TARDIS_CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("TARDIS_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("TARDIS_LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("endpoint", c.Endpoint).
		Str("cache_dir", c.CacheDir).
		Bool("authenticated", c.APIKey != "").
		Int("max_concurrent_fetches", c.MaxConcurrentFetches).
		Int("max_fetch_rate", c.MaxFetchRatePerSec).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Dur("slice_poll_interval", c.SlicePollInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("tardis configuration loaded")
}
