// Package rollup condenses raw station readings into per-station,
// per-hour, per-dimension averages.
//
// Recomputation is a pure function of the raw values currently stored for
// an hour window, so repeated runs, restarts or overlapping scheduler
// instances converge on the same row content.
package rollup

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Stat is the aggregate for one dimension inside an hour window.
type Stat struct {
	Avg   float64 `json:"avg"`
	Count int64   `json:"cnt"`
}

// Sample is a single raw (dimension, value) pair inside a window.
type Sample struct {
	Dimension int
	Value     float64
}

// Aggregate computes the arithmetic mean and count per dimension.
func Aggregate(samples []Sample) map[int]Stat {
	sums := make(map[int]float64)
	counts := make(map[int]int64)
	for _, s := range samples {
		sums[s.Dimension] += s.Value
		counts[s.Dimension]++
	}

	out := make(map[int]Stat, len(sums))
	for dim, sum := range sums {
		out[dim] = Stat{Avg: sum / float64(counts[dim]), Count: counts[dim]}
	}
	return out
}

// FloorHour truncates t to the start of its hour bucket, in UTC.
func FloorHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// Candidate identifies one (station, hour) pair due for recomputation.
type Candidate struct {
	StationID int64
	Hour      time.Time
}

// Store is the storage surface the engine needs. *db.Store implements it.
type Store interface {
	// CandidateHours lists (station, hour) pairs with at least one raw value
	// in a completed hour within [since, until).
	CandidateHours(ctx context.Context, since, until time.Time) ([]Candidate, error)
	// RecomputeHour recalculates and upserts the hourly row for one
	// candidate inside its own transaction.
	RecomputeHour(ctx context.Context, c Candidate) error
}

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_cycles_total",
		Help: "Number of rollup cycles executed.",
	})
	hoursRecomputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_hours_recomputed_total",
		Help: "Number of (station, hour) rows recomputed.",
	})
	hoursFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rollup_hours_failed_total",
		Help: "Number of (station, hour) recomputations that failed.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollup_cycle_duration_seconds",
		Help:    "Wall time of a full rollup cycle.",
		Buckets: prometheus.DefBuckets,
	})
)

// Engine drives periodic recomputation of hourly averages.
type Engine struct {
	store       Store
	lookback    time.Duration
	hourTimeout time.Duration
	log         zerolog.Logger
	now         func() time.Time
}

// NewEngine builds an engine. lookback bounds how far back missed hours are
// caught up; hourTimeout bounds a single candidate recomputation.
func NewEngine(store Store, lookback, hourTimeout time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		store:       store,
		lookback:    lookback,
		hourTimeout: hourTimeout,
		log:         logger,
		now:         time.Now,
	}
}

// Run executes one rollup cycle. Each candidate is recomputed independently:
// a failed or timed-out station hour is skipped and picked up again on the
// next cycle, it never aborts the rest of the batch.
func (e *Engine) Run(ctx context.Context) error {
	started := e.now()
	cyclesTotal.Inc()
	defer func() { cycleDuration.Observe(e.now().Sub(started).Seconds()) }()

	until := FloorHour(started)
	since := until.Add(-e.lookback)

	candidates, err := e.store.CandidateHours(ctx, since, until)
	if err != nil {
		return fmt.Errorf("list candidate hours: %w", err)
	}
	if len(candidates) == 0 {
		e.log.Debug().Msg("rollup cycle: nothing to recompute")
		return nil
	}

	var errs *multierror.Error
	recomputed := 0
	for _, cand := range candidates {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}

		hourCtx, cancel := context.WithTimeout(ctx, e.hourTimeout)
		err := e.store.RecomputeHour(hourCtx, cand)
		cancel()

		if err != nil {
			hoursFailed.Inc()
			e.log.Warn().
				Int64("station_id", cand.StationID).
				Time("hour", cand.Hour).
				Err(err).
				Msg("hourly recomputation failed, retrying next cycle")
			errs = multierror.Append(errs, fmt.Errorf("station %d hour %s: %w",
				cand.StationID, cand.Hour.Format(time.RFC3339), err))
			continue
		}
		hoursRecomputed.Inc()
		recomputed++
	}

	e.log.Info().
		Int("candidates", len(candidates)).
		Int("recomputed", recomputed).
		Dur("elapsed", e.now().Sub(started)).
		Msg("rollup cycle finished")

	return errs.ErrorOrNil()
}
