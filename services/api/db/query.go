package db

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/dimension"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/format"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/rollup"
)

// CurrentQuery holds filters for retrieving the latest reading per station.
type CurrentQuery struct {
	Devices            []string
	ActiveSince        time.Time
	IncludeCalibration bool
}

const currentReadingsBase = `
	SELECT s.device, l.lat, l.lon, l.height, m.time_measured, m.sensor_model, v.dimension, v.value
	FROM aq.stations s
	LEFT JOIN aq.locations l ON l.id = s.location_id
	JOIN aq.measurements m ON m.station_id = s.id
	JOIN aq.values v ON v.measurement_id = m.id
	WHERE s.last_active >= $1
	  AND m.time_measured = (
		SELECT MAX(m2.time_measured) FROM aq.measurements m2 WHERE m2.station_id = s.id
	  )
`

const currentCalibrationBase = `
	SELECT s.device, l.lat, l.lon, l.height, cm.time_measured, cm.sensor_model, v.dimension, v.value
	FROM aq.stations s
	LEFT JOIN aq.locations l ON l.id = s.location_id
	JOIN aq.calibration_measurements cm ON cm.station_id = s.id
	JOIN aq.values v ON v.calibration_measurement_id = cm.id
	WHERE s.last_active >= $1
	  AND cm.time_measured = (
		SELECT MAX(c2.time_measured) FROM aq.calibration_measurements c2 WHERE c2.station_id = s.id
	  )
`

// CurrentReadings returns the latest raw reading per station whose
// last_active falls inside the staleness window. Calibration values are
// appended only when explicitly requested.
func (s *Store) CurrentReadings(ctx context.Context, q CurrentQuery) ([]format.ReadingRow, error) {
	rows, err := s.currentRows(ctx, currentReadingsBase, q, false)
	if err != nil {
		return nil, err
	}
	if !q.IncludeCalibration {
		return rows, nil
	}

	calRows, err := s.currentRows(ctx, currentCalibrationBase, q, true)
	if err != nil {
		return nil, err
	}
	return append(rows, calRows...), nil
}

func (s *Store) currentRows(ctx context.Context, base string, q CurrentQuery, calibration bool) ([]format.ReadingRow, error) {
	sql := base
	args := []any{q.ActiveSince}
	if len(q.Devices) > 0 {
		sql += " AND s.device = ANY($2)"
		args = append(args, q.Devices)
	}
	sql += " ORDER BY s.device, sensor_model, v.dimension"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]format.ReadingRow, 0)
	for rows.Next() {
		var r format.ReadingRow
		if err := rows.Scan(&r.Device, &r.Lat, &r.Lon, &r.Height, &r.Time, &r.SensorModel, &r.Dimension, &r.Value); err != nil {
			return nil, err
		}
		r.Calibration = calibration
		out = append(out, r)
	}
	return out, rows.Err()
}

// HistoricalQuery selects rollup rows for a station set over a time range.
type HistoricalQuery struct {
	Devices []string
	From    time.Time
	To      time.Time
}

const historicalSQL = `
	SELECT s.device, h.hour, l.lat, l.lon, h.dimensions
	FROM aq.hourly_averages h
	JOIN aq.stations s ON s.id = h.station_id
	LEFT JOIN aq.locations l ON l.id = s.location_id
	WHERE s.device = ANY($1) AND h.hour >= $2 AND h.hour <= $3
	ORDER BY s.device, h.hour
`

// HistoricalAverages returns hourly rollup rows covering [From, To].
func (s *Store) HistoricalAverages(ctx context.Context, q HistoricalQuery) ([]format.HourlyRow, error) {
	rows, err := s.pool.Query(ctx, historicalSQL, q.Devices, q.From, q.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]format.HourlyRow, 0)
	for rows.Next() {
		var r format.HourlyRow
		var payload []byte
		if err := rows.Scan(&r.Device, &r.Hour, &r.Lat, &r.Lon, &payload); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &r.Dimensions); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RankEntry is one station's value for a ranking query.
type RankEntry struct {
	Device string  `json:"device"`
	Value  float64 `json:"value"`
}

const latestValuesSQL = `
	SELECT s.device, x.value
	FROM aq.stations s
	JOIN LATERAL (
		SELECT v.value
		FROM aq.values v
		JOIN aq.measurements m ON m.id = v.measurement_id
		WHERE m.station_id = s.id AND v.dimension = $1
		ORDER BY m.time_measured DESC
		LIMIT 1
	) x ON true
`

// LatestDimensionValues returns each station's most recent raw value of one
// dimension. Stations that never reported the dimension are absent.
func (s *Store) LatestDimensionValues(ctx context.Context, dim int) ([]RankEntry, error) {
	return s.rankRows(ctx, latestValuesSQL, dim)
}

const rollupValuesSQL = `
	SELECT s.device, (x.dimensions -> $1::text ->> 'avg')::double precision
	FROM aq.stations s
	JOIN LATERAL (
		SELECT h.dimensions
		FROM aq.hourly_averages h
		WHERE h.station_id = s.id AND h.dimensions ? $1::text
		ORDER BY h.hour DESC
		LIMIT 1
	) x ON true
`

// RollupDimensionValues returns each station's newest rolled-up hourly
// average for one dimension.
func (s *Store) RollupDimensionValues(ctx context.Context, dim int) ([]RankEntry, error) {
	return s.rankRows(ctx, rollupValuesSQL, strconv.Itoa(dim))
}

func (s *Store) rankRows(ctx context.Context, sql string, arg any) ([]RankEntry, error) {
	rows, err := s.pool.Query(ctx, sql, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RankEntry, 0)
	for rows.Next() {
		var e RankEntry
		if err := rows.Scan(&e.Device, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RankTop orders entries by value descending, ties by ascending device id,
// and returns the first n.
func RankTop(entries []RankEntry, n int) []RankEntry {
	ranked := make([]RankEntry, len(entries))
	copy(ranked, entries)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Value != ranked[j].Value {
			return ranked[i].Value > ranked[j].Value
		}
		return ranked[i].Device < ranked[j].Device
	})
	if n < len(ranked) {
		ranked = ranked[:n]
	}
	return ranked
}

// CalibrationQuery holds filters for the calibration read path.
type CalibrationQuery struct {
	Devices       []string
	From          *time.Time
	To            *time.Time
	IncludeValues bool
}

// DimensionValue is a single (dimension, value) pair in a response payload.
type DimensionValue struct {
	Dimension int     `json:"dimension"`
	Value     float64 `json:"value"`
}

// CalibrationRecord is one calibration measurement. Values is nil when the
// query suppresses value payloads.
type CalibrationRecord struct {
	Device       string           `json:"device"`
	TimeMeasured time.Time        `json:"time_measured"`
	TimeReceived time.Time        `json:"time_received"`
	SensorModel  int              `json:"sensor_model"`
	Sensor       string           `json:"sensor"`
	Values       []DimensionValue `json:"values,omitempty"`
}

const calibrationRecordsBase = `
	SELECT s.device, cm.id, cm.time_measured, cm.time_received, cm.sensor_model
	FROM aq.calibration_measurements cm
	JOIN aq.stations s ON s.id = cm.station_id
`

const calibrationValuesSQL = `
	SELECT calibration_measurement_id, dimension, value
	FROM aq.values
	WHERE calibration_measurement_id = ANY($1)
	ORDER BY calibration_measurement_id, dimension
`

// CalibrationRecords returns calibration measurements matching the query.
// With IncludeValues false only the measurement metadata rows are returned,
// value payloads are suppressed entirely.
func (s *Store) CalibrationRecords(ctx context.Context, q CalibrationQuery) ([]CalibrationRecord, error) {
	sql := calibrationRecordsBase
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if len(q.Devices) > 0 {
		args = append(args, q.Devices)
		clauses = append(clauses, "s.device = ANY($"+strconv.Itoa(len(args))+")")
	}
	if q.From != nil {
		args = append(args, *q.From)
		clauses = append(clauses, "cm.time_measured >= $"+strconv.Itoa(len(args)))
	}
	if q.To != nil {
		args = append(args, *q.To)
		clauses = append(clauses, "cm.time_measured <= $"+strconv.Itoa(len(args)))
	}
	for i, c := range clauses {
		if i == 0 {
			sql += " WHERE " + c
		} else {
			sql += " AND " + c
		}
	}
	sql += " ORDER BY s.device, cm.time_measured"

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]CalibrationRecord, 0)
	ids := make([]int64, 0)
	byID := make(map[int64]int)
	for rows.Next() {
		var rec CalibrationRecord
		var id int64
		if err := rows.Scan(&rec.Device, &id, &rec.TimeMeasured, &rec.TimeReceived, &rec.SensorModel); err != nil {
			return nil, err
		}
		rec.Sensor = dimension.SensorName(rec.SensorModel)
		byID[id] = len(records)
		ids = append(ids, id)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !q.IncludeValues || len(ids) == 0 {
		return records, nil
	}

	valRows, err := s.pool.Query(ctx, calibrationValuesSQL, ids)
	if err != nil {
		return nil, err
	}
	defer valRows.Close()

	for valRows.Next() {
		var id int64
		var dv DimensionValue
		if err := valRows.Scan(&id, &dv.Dimension, &dv.Value); err != nil {
			return nil, err
		}
		if idx, ok := byID[id]; ok {
			records[idx].Values = append(records[idx].Values, dv)
		}
	}
	return records, valRows.Err()
}

// compile-time check that the store satisfies the rollup engine's surface
var _ rollup.Store = (*Store)(nil)
