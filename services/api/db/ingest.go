package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Reading is one sensing event submitted by a station.
type Reading struct {
	TimeMeasured time.Time
	SensorModel  int
	Values       map[int]float64
}

// ReadingBatch is one ingestion request after boundary validation.
type ReadingBatch struct {
	Device   string
	APIKey   string
	Firmware *string
	Readings []Reading
}

// IngestResult reports what one accepted batch created.
type IngestResult struct {
	MeasurementIDs []int64 `json:"measurement_ids"`
	Created        int     `json:"created"`
	Duplicates     int     `json:"duplicates"`
}

// AcceptReadings persists a batch of normal field readings. The whole batch
// is written in a single transaction and is idempotent: retransmitted
// readings are detected by their natural key (station, time_measured,
// sensor_model, dimension) and silently dropped instead of erroring, because
// field stations resend unacknowledged packets.
func (s *Store) AcceptReadings(ctx context.Context, batch ReadingBatch) (*IngestResult, error) {
	return s.ingest(ctx, batch, false)
}

// AcceptCalibration persists a batch of calibration-session readings. The
// write path is identical to normal ingestion but values are attached to a
// calibration measurement, keeping them out of rollups and default queries.
func (s *Store) AcceptCalibration(ctx context.Context, batch ReadingBatch) (*IngestResult, error) {
	return s.ingest(ctx, batch, true)
}

const lookupStationSQL = `SELECT id, apikey FROM aq.stations WHERE device = $1`

const insertMeasurementSQL = `
	INSERT INTO aq.measurements (station_id, location_id, time_received, time_measured, sensor_model)
	SELECT $1, s.location_id, $2, $3, $4 FROM aq.stations s WHERE s.id = $1
	ON CONFLICT (station_id, time_measured, sensor_model) DO NOTHING
	RETURNING id
`

const selectMeasurementSQL = `
	SELECT id FROM aq.measurements
	WHERE station_id = $1 AND time_measured = $2 AND sensor_model = $3
`

const insertCalibrationSQL = `
	INSERT INTO aq.calibration_measurements (station_id, location_id, time_received, time_measured, sensor_model)
	SELECT $1, s.location_id, $2, $3, $4 FROM aq.stations s WHERE s.id = $1
	ON CONFLICT (station_id, time_measured, sensor_model) DO NOTHING
	RETURNING id
`

const selectCalibrationSQL = `
	SELECT id FROM aq.calibration_measurements
	WHERE station_id = $1 AND time_measured = $2 AND sensor_model = $3
`

const insertValueSQL = `
	INSERT INTO aq.values (measurement_id, dimension, value)
	VALUES ($1, $2, $3)
	ON CONFLICT (measurement_id, dimension) WHERE measurement_id IS NOT NULL DO NOTHING
`

const insertCalibrationValueSQL = `
	INSERT INTO aq.values (calibration_measurement_id, dimension, value)
	VALUES ($1, $2, $3)
	ON CONFLICT (calibration_measurement_id, dimension) WHERE calibration_measurement_id IS NOT NULL DO NOTHING
`

const advanceLastActiveSQL = `
	UPDATE aq.stations
	SET last_active = GREATEST(COALESCE(last_active, 'epoch'::timestamptz), $2),
	    firmware = COALESCE($3, firmware)
	WHERE id = $1
`

// receivedAt stamps the arrival time for one reading. Clock skew inside the
// accepted grace can put a reported time slightly ahead of the wall clock;
// the stamp is clamped so time_measured never exceeds time_received.
func receivedAt(now, measured time.Time) time.Time {
	if measured.After(now) {
		return measured
	}
	return now
}

func (s *Store) ingest(ctx context.Context, batch ReadingBatch, calibration bool) (*IngestResult, error) {
	timeReceived := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var stationID int64
	var storedKey string
	if err := tx.QueryRow(ctx, lookupStationSQL, batch.Device).Scan(&stationID, &storedKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("station %q: %w", batch.Device, ErrUnknownStation)
		}
		return nil, err
	}
	if storedKey != batch.APIKey {
		return nil, fmt.Errorf("station %q: %w", batch.Device, ErrBadAPIKey)
	}

	insertMeasurement, selectMeasurement, insertValue := insertMeasurementSQL, selectMeasurementSQL, insertValueSQL
	if calibration {
		insertMeasurement, selectMeasurement, insertValue = insertCalibrationSQL, selectCalibrationSQL, insertCalibrationValueSQL
	}

	result := &IngestResult{MeasurementIDs: make([]int64, 0, len(batch.Readings))}
	valueBatch := &pgx.Batch{}
	latestReceived := timeReceived

	for _, r := range batch.Readings {
		measured := r.TimeMeasured.UTC()
		received := receivedAt(timeReceived, measured)
		if received.After(latestReceived) {
			latestReceived = received
		}

		var measurementID int64
		err := tx.QueryRow(ctx, insertMeasurement, stationID, received, measured, r.SensorModel).Scan(&measurementID)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			// Retransmission: the measurement already exists, reuse its id so
			// any dimensions missing from the first delivery still land.
			if err := tx.QueryRow(ctx, selectMeasurement, stationID, measured, r.SensorModel).Scan(&measurementID); err != nil {
				return nil, err
			}
			result.Duplicates++
		case err != nil:
			return nil, err
		default:
			result.Created++
			result.MeasurementIDs = append(result.MeasurementIDs, measurementID)
		}

		for dim, val := range r.Values {
			valueBatch.Queue(insertValue, measurementID, dim, val)
		}
	}

	br := tx.SendBatch(ctx, valueBatch)
	for i := 0; i < valueBatch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return nil, err
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, advanceLastActiveSQL, stationID, latestReceived, batch.Firmware); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

const insertStatusSQL = `
	INSERT INTO aq.station_status (station_id, timestamp, level, message)
	VALUES ($1, $2, $3, $4)
`

// AppendStatus records a timestamped (level, message) report for a station.
func (s *Store) AppendStatus(ctx context.Context, device string, level int, message string, ts time.Time) error {
	var stationID int64
	var storedKey string
	if err := s.pool.QueryRow(ctx, lookupStationSQL, device).Scan(&stationID, &storedKey); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("station %q: %w", device, ErrUnknownStation)
		}
		return err
	}

	_, err := s.pool.Exec(ctx, insertStatusSQL, stationID, ts.UTC(), level, message)
	return err
}
