package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort            = 8080
	defaultStaleAfter      = time.Hour
	defaultRollupInterval  = time.Hour
	defaultRollupLookback  = 24 * time.Hour
	defaultRollupHourLimit = 30 * time.Second
	defaultHealthTimeout   = 5 * time.Second
)

// Config holds environment-driven settings for the REST API.
type Config struct {
	DatabaseURL       string
	Port              int
	StaleAfter        time.Duration
	RollupInterval    time.Duration
	RollupLookback    time.Duration
	RollupHourTimeout time.Duration
	HealthTimeout     time.Duration
	LogLevel          string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:              defaultPort,
		StaleAfter:        defaultStaleAfter,
		RollupInterval:    defaultRollupInterval,
		RollupLookback:    defaultRollupLookback,
		RollupHourTimeout: defaultRollupHourLimit,
		HealthTimeout:     defaultHealthTimeout,
		LogLevel:          "info",
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	} else if portStr := os.Getenv("API_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid API_PORT: %s", portStr)
		}
	}

	var err error
	if cfg.StaleAfter, err = durationEnv("STALE_AFTER", cfg.StaleAfter); err != nil {
		return cfg, err
	}
	if cfg.RollupInterval, err = durationEnv("ROLLUP_INTERVAL", cfg.RollupInterval); err != nil {
		return cfg, err
	}
	if cfg.RollupLookback, err = durationEnv("ROLLUP_LOOKBACK", cfg.RollupLookback); err != nil {
		return cfg, err
	}
	if cfg.RollupHourTimeout, err = durationEnv("ROLLUP_STATION_TIMEOUT", cfg.RollupHourTimeout); err != nil {
		return cfg, err
	}
	if cfg.HealthTimeout, err = durationEnv("HEALTH_TIMEOUT", cfg.HealthTimeout); err != nil {
		return cfg, err
	}

	if level := strings.TrimSpace(os.Getenv("LOG_LEVEL")); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def, fmt.Errorf("invalid %s: %s", key, v)
	}
	return d, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
