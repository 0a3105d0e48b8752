// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the service settings.
type Config struct {
	Addr       string `env:"CARE_SCHEDULER_ADDR" envDefault:":8099"`
	DataDir    string `env:"CARE_SCHEDULER_DATA_DIR" envDefault:"/data"`
	LogLevel   string `env:"CARE_SCHEDULER_LOG_LEVEL" envDefault:"info"`
	LogConsole bool   `env:"CARE_SCHEDULER_LOG_CONSOLE" envDefault:"false"`

	// Timezone is the IANA zone calendar days and recurrence are evaluated in.
	Timezone             string `env:"CARE_SCHEDULER_TIMEZONE" envDefault:"UTC"`
	MaxSeriesOccurrences int    `env:"CARE_SCHEDULER_MAX_SERIES_OCCURRENCES" envDefault:"104"`
	SeriesHorizonDays    int    `env:"CARE_SCHEDULER_SERIES_HORIZON_DAYS" envDefault:"366"`
	OverdueSweep         string `env:"CARE_SCHEDULER_OVERDUE_SWEEP" envDefault:"@every 1m"`
	// OverdueLookBack bounds how old a missed window the sweep still reports.
	OverdueLookBack time.Duration `env:"CARE_SCHEDULER_OVERDUE_LOOKBACK" envDefault:"168h"`

	RateLimitRPS   float64 `env:"CARE_SCHEDULER_RATE_LIMIT_RPS" envDefault:"50"`
	RateLimitBurst int     `env:"CARE_SCHEDULER_RATE_LIMIT_BURST" envDefault:"100"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the environment.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	if cfg.MaxSeriesOccurrences < 1 {
		return Config{}, fmt.Errorf("max series occurrences must be positive, got %d", cfg.MaxSeriesOccurrences)
	}
	if cfg.SeriesHorizonDays < 1 {
		return Config{}, fmt.Errorf("series horizon must be positive, got %d days", cfg.SeriesHorizonDays)
	}
	if cfg.OverdueLookBack <= 0 {
		return Config{}, fmt.Errorf("overdue look-back must be positive, got %s", cfg.OverdueLookBack)
	}
	return cfg, nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SeriesHorizon is the furthest a series may extend past its first occurrence.
func (c Config) SeriesHorizon() time.Duration {
	return time.Duration(c.SeriesHorizonDays) * 24 * time.Hour
}
