// The watcher is a run-to-completion sweep, meant to be invoked from cron
// or a container scheduler. It flags stations that stopped reporting by
// appending station_status notices, which the API's status history then
// surfaces to operators.
package main

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/aozora-dev/kaze-air-quality-api/services/watcher/internal/config"
	"github.com/aozora-dev/kaze-air-quality-api/services/watcher/internal/db"
	"github.com/aozora-dev/kaze-air-quality-api/services/watcher/internal/watch"
)

const sweepTimeout = 60 * time.Second

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "watcher").Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("watcher sweep failed")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	now := time.Now().UTC().Truncate(time.Second)

	stations, err := db.FetchStations(ctx, pool)
	if err != nil {
		return err
	}
	logger.Info().Int("stations", len(stations)).Msg("fetched station snapshots")

	last, err := db.FetchLastNotices(ctx, pool)
	if err != nil {
		return err
	}

	notices := watch.BuildNotices(stations, last, now, cfg.StaleAfter, cfg.CriticalAfter)
	if len(notices) == 0 {
		logger.Info().Msg("no silent stations to flag")
		return nil
	}

	if cfg.DryRun {
		for _, n := range notices {
			logger.Info().
				Str("device", n.Device).
				Int("level", n.Level).
				Str("message", n.Message).
				Msg("dry-run: would insert notice")
		}
		return nil
	}

	if err := db.InsertNotices(ctx, pool, notices); err != nil {
		return err
	}

	logger.Info().Int("notices", len(notices)).Msg("flagged silent stations")
	return nil
}
