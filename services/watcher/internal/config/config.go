package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultStaleAfter    = 2 * time.Hour
	defaultCriticalAfter = 24 * time.Hour
)

// Config holds runtime configuration for the watcher sweep.
type Config struct {
	DatabaseURL   string
	StaleAfter    time.Duration
	CriticalAfter time.Duration
	DryRun        bool
	LogLevel      string
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		StaleAfter:    defaultStaleAfter,
		CriticalAfter: defaultCriticalAfter,
		LogLevel:      "info",
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if v := strings.TrimSpace(os.Getenv("WATCHER_STALE_AFTER")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid WATCHER_STALE_AFTER: %s", v)
		}
		cfg.StaleAfter = d
	}

	if v := strings.TrimSpace(os.Getenv("WATCHER_CRITICAL_AFTER")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid WATCHER_CRITICAL_AFTER: %s", v)
		}
		cfg.CriticalAfter = d
	}

	if cfg.CriticalAfter < cfg.StaleAfter {
		return cfg, errors.New("WATCHER_CRITICAL_AFTER must not be shorter than WATCHER_STALE_AFTER")
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}
