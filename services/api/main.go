package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/config"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/db"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/health"
	httpserver "github.com/aozora-dev/kaze-air-quality-api/services/api/http"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/rollup"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/scheduler"
)

// version is stamped by the build pipeline.
var version = "dev"

const rollupJobName = "hourly_rollup"

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("config error")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "api").Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("db connection error")
	}
	defer store.Close()

	engine := rollup.NewEngine(store, cfg.RollupLookback, cfg.RollupHourTimeout, logger)

	sched := scheduler.New(logger)
	if err := sched.Register(rollupJobName, cfg.RollupInterval, engine.Run); err != nil {
		logger.Fatal().Err(err).Msg("scheduler setup error")
	}
	sched.Start(ctx)

	monitor := health.NewMonitor(store, sched, rollupJobName, cfg.HealthTimeout, version)

	srv := httpserver.New(cfg, store, monitor, sched, logger)
	logger.Info().Str("addr", cfg.ListenAddr()).Msg("REST API listening")

	if err := srv.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	sched.Wait()
}
