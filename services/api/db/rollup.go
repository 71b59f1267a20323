package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/rollup"
)

const candidateHoursSQL = `
	SELECT m.station_id, date_trunc('hour', m.time_measured) AS hour
	FROM aq.measurements m
	JOIN aq.values v ON v.measurement_id = m.id
	WHERE m.time_measured >= $1 AND m.time_measured < $2
	GROUP BY m.station_id, date_trunc('hour', m.time_measured)
	ORDER BY m.station_id, hour
`

// CandidateHours lists (station, hour) pairs with at least one normal value
// in a completed hour inside [since, until).
func (s *Store) CandidateHours(ctx context.Context, since, until time.Time) ([]rollup.Candidate, error) {
	rows, err := s.pool.Query(ctx, candidateHoursSQL, since, until)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates := make([]rollup.Candidate, 0)
	for rows.Next() {
		var c rollup.Candidate
		if err := rows.Scan(&c.StationID, &c.Hour); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

const windowSamplesSQL = `
	SELECT v.dimension, v.value
	FROM aq.values v
	JOIN aq.measurements m ON m.id = v.measurement_id
	WHERE m.station_id = $1 AND m.time_measured >= $2 AND m.time_measured < $3
`

const upsertHourlySQL = `
	INSERT INTO aq.hourly_averages (station_id, hour, dimensions, updated_at)
	VALUES ($1, $2, $3, NOW())
	ON CONFLICT (station_id, hour) DO UPDATE
	SET dimensions = EXCLUDED.dimensions,
	    updated_at = NOW()
`

const deleteHourlySQL = `DELETE FROM aq.hourly_averages WHERE station_id = $1 AND hour = $2`

// RecomputeHour rebuilds the hourly row for one (station, hour) from the raw
// values currently stored for that window. Calibration values never join in:
// they carry no measurement reference. The upsert replaces any prior content
// for the key, so concurrent writers computing the same deterministic result
// are safe without locking.
func (s *Store) RecomputeHour(ctx context.Context, c rollup.Candidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	hourStart := c.Hour.UTC()
	hourEnd := hourStart.Add(time.Hour)

	rows, err := tx.Query(ctx, windowSamplesSQL, c.StationID, hourStart, hourEnd)
	if err != nil {
		return err
	}

	samples := make([]rollup.Sample, 0)
	for rows.Next() {
		var smp rollup.Sample
		if err := rows.Scan(&smp.Dimension, &smp.Value); err != nil {
			rows.Close()
			return err
		}
		samples = append(samples, smp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	stats := rollup.Aggregate(samples)
	if len(stats) == 0 {
		// The window lost all of its values, the derived row must go too.
		if _, err := tx.Exec(ctx, deleteHourlySQL, c.StationID, hourStart); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertHourlySQL, c.StationID, hourStart, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
