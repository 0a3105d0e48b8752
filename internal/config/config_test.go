package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8099" || cfg.DataDir != "/data" {
		t.Fatalf("unexpected listen defaults %+v", cfg)
	}
	if cfg.MaxSeriesOccurrences != 104 || cfg.SeriesHorizon() != 366*24*time.Hour {
		t.Fatalf("unexpected series defaults %+v", cfg)
	}
	if cfg.OverdueSweep != "@every 1m" || cfg.OverdueLookBack != 7*24*time.Hour {
		t.Fatalf("unexpected sweep defaults %q %s", cfg.OverdueSweep, cfg.OverdueLookBack)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("location = %v, %v", loc, err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CARE_SCHEDULER_ADDR", ":9000")
	t.Setenv("CARE_SCHEDULER_LOG_CONSOLE", "true")
	t.Setenv("CARE_SCHEDULER_MAX_SERIES_OCCURRENCES", "12")
	t.Setenv("CARE_SCHEDULER_RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9000" || !cfg.LogConsole || cfg.MaxSeriesOccurrences != 12 || cfg.RateLimitRPS != 2.5 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("CARE_SCHEDULER_SERIES_HORIZON_DAYS", "a year")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"unknown zone", "CARE_SCHEDULER_TIMEZONE", "Mars/Olympus"},
		{"zero cap", "CARE_SCHEDULER_MAX_SERIES_OCCURRENCES", "0"},
		{"negative horizon", "CARE_SCHEDULER_SERIES_HORIZON_DAYS", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
