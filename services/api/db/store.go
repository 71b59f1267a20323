package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/dimension"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/format"
)

// Sentinel errors mapped to HTTP status codes at the boundary.
var (
	ErrUnknownStation = errors.New("unknown station")
	ErrBadAPIKey      = errors.New("invalid API key")
)

// Pool is the subset of pgxpool.Pool the store relies on. Repository tests
// substitute a mock implementation.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Ping(ctx context.Context) error
	Close()
}

// Store wraps database access helpers.
type Store struct {
	pool Pool
}

// New creates a Store backed by a pgx pool.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool resources.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies storage reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Station is a field station's metadata record. Locations are external
// reference data: only their coordinates are read, never written.
type Station struct {
	ID         int64      `json:"-"`
	Device     string     `json:"device"`
	Firmware   *string    `json:"firmware,omitempty"`
	APIKey     string     `json:"-"`
	Source     int        `json:"source"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Lat        *float64   `json:"lat,omitempty"`
	Lon        *float64   `json:"lon,omitempty"`
	Height     *float64   `json:"height,omitempty"`
}

const getStationSQL = `
	SELECT s.id, s.device, s.firmware, s.apikey, s.source, s.last_active, l.lat, l.lon, l.height
	FROM aq.stations s
	LEFT JOIN aq.locations l ON l.id = s.location_id
	WHERE s.device = $1
`

// GetStation returns metadata for one station by device identifier.
func (s *Store) GetStation(ctx context.Context, device string) (*Station, error) {
	row := s.pool.QueryRow(ctx, getStationSQL, device)

	var st Station
	if err := row.Scan(
		&st.ID,
		&st.Device,
		&st.Firmware,
		&st.APIKey,
		&st.Source,
		&st.LastActive,
		&st.Lat,
		&st.Lon,
		&st.Height,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("station %q: %w", device, ErrUnknownStation)
		}
		return nil, err
	}
	return &st, nil
}

const listStationsSQL = `
	SELECT s.device, s.last_active, l.lat, l.lon, COUNT(m.id)
	FROM aq.stations s
	LEFT JOIN aq.locations l ON l.id = s.location_id
	LEFT JOIN aq.measurements m ON m.station_id = s.id
	GROUP BY s.device, s.last_active, l.lat, l.lon
	ORDER BY s.device
`

// ListStations returns every known station regardless of freshness, with its
// measurement count.
func (s *Store) ListStations(ctx context.Context) ([]format.StationRow, error) {
	rows, err := s.pool.Query(ctx, listStationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stations := make([]format.StationRow, 0)
	for rows.Next() {
		var r format.StationRow
		if err := rows.Scan(&r.Device, &r.LastActive, &r.Lat, &r.Lon, &r.MeasurementCount); err != nil {
			return nil, err
		}
		stations = append(stations, r)
	}
	return stations, rows.Err()
}

// DimensionStats describes stored values for one sensor channel.
type DimensionStats struct {
	Dimension int      `json:"dimension_id"`
	Name      string   `json:"dimension_name"`
	Unit      string   `json:"unit"`
	Count     int64    `json:"value_count"`
	Avg       *float64 `json:"average_value"`
	Min       *float64 `json:"min_value"`
	Max       *float64 `json:"max_value"`
}

// Statistics summarizes the stored dataset.
type Statistics struct {
	Totals         map[string]int64 `json:"totals"`
	ActiveStations map[string]int64 `json:"active_stations"`
	Dimensions     []DimensionStats `json:"dimensions"`
}

const totalsSQL = `
	SELECT
		(SELECT COUNT(*) FROM aq.stations),
		(SELECT COUNT(*) FROM aq.measurements),
		(SELECT COUNT(*) FROM aq.calibration_measurements),
		(SELECT COUNT(*) FROM aq.values),
		(SELECT COUNT(*) FROM aq.station_status),
		(SELECT COUNT(*) FROM aq.hourly_averages)
`

const activeStationsSQL = `
	SELECT
		COUNT(*) FILTER (WHERE last_active >= $1::timestamptz - interval '1 hour'),
		COUNT(*) FILTER (WHERE last_active >= $1::timestamptz - interval '24 hours'),
		COUNT(*) FILTER (WHERE last_active >= $1::timestamptz - interval '7 days'),
		COUNT(*) FILTER (WHERE last_active >= $1::timestamptz - interval '30 days')
	FROM aq.stations
`

const dimensionStatsSQL = `
	SELECT dimension, COUNT(*), AVG(value), MIN(value), MAX(value)
	FROM aq.values
	WHERE measurement_id IS NOT NULL
	GROUP BY dimension
	ORDER BY COUNT(*) DESC
`

// Statistics computes dataset-wide counts and per-dimension distributions.
func (s *Store) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		Totals:         make(map[string]int64),
		ActiveStations: make(map[string]int64),
		Dimensions:     make([]DimensionStats, 0),
	}

	var stations, measurements, calibration, values, statuses, hourly int64
	if err := s.pool.QueryRow(ctx, totalsSQL).Scan(
		&stations, &measurements, &calibration, &values, &statuses, &hourly,
	); err != nil {
		return nil, err
	}
	stats.Totals["stations"] = stations
	stats.Totals["measurements"] = measurements
	stats.Totals["calibration_measurements"] = calibration
	stats.Totals["values"] = values
	stats.Totals["station_statuses"] = statuses
	stats.Totals["hourly_averages"] = hourly

	now := time.Now().UTC()
	var h1, d1, d7, d30 int64
	if err := s.pool.QueryRow(ctx, activeStationsSQL, now).Scan(&h1, &d1, &d7, &d30); err != nil {
		return nil, err
	}
	stats.ActiveStations["last_hour"] = h1
	stats.ActiveStations["last_24_hours"] = d1
	stats.ActiveStations["last_7_days"] = d7
	stats.ActiveStations["last_30_days"] = d30

	rows, err := s.pool.Query(ctx, dimensionStatsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var d DimensionStats
		if err := rows.Scan(&d.Dimension, &d.Count, &d.Avg, &d.Min, &d.Max); err != nil {
			return nil, err
		}
		d.Name = dimension.Name(d.Dimension)
		d.Unit = dimension.Unit(d.Dimension)
		stats.Dimensions = append(stats.Dimensions, d)
	}
	return stats, rows.Err()
}
