package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aozora-dev/kaze-air-quality-api/services/watcher/internal/watch"
)

const fetchStationsSQL = `
	SELECT id, device, last_active
	FROM aq.stations
	ORDER BY device
`

// FetchStations loads every station's activity snapshot.
func FetchStations(ctx context.Context, pool *pgxpool.Pool) ([]watch.Station, error) {
	rows, err := pool.Query(ctx, fetchStationsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]watch.Station, 0)
	for rows.Next() {
		var st watch.Station
		if err := rows.Scan(&st.ID, &st.Device, &st.LastActive); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

const fetchLastNoticesSQL = `
	SELECT DISTINCT ON (station_id) station_id, level, timestamp
	FROM aq.station_status
	WHERE message LIKE 'station silent%'
	ORDER BY station_id, timestamp DESC
`

// FetchLastNotices loads the newest silence notice per station.
func FetchLastNotices(ctx context.Context, pool *pgxpool.Pool) (map[int64]watch.LastNotice, error) {
	rows, err := pool.Query(ctx, fetchLastNoticesSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]watch.LastNotice)
	for rows.Next() {
		var stationID int64
		var n watch.LastNotice
		if err := rows.Scan(&stationID, &n.Level, &n.At); err != nil {
			return nil, err
		}
		out[stationID] = n
	}
	return out, rows.Err()
}

const insertNoticeSQL = `
	INSERT INTO aq.station_status (station_id, timestamp, level, message)
	VALUES ($1, $2, $3, $4)
`

// InsertNotices writes the pending notices in one batch.
func InsertNotices(ctx context.Context, pool *pgxpool.Pool, notices []watch.Notice) error {
	if len(notices) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range notices {
		batch.Queue(insertNoticeSQL, n.StationID, n.At, n.Level, n.Message)
	}

	res := pool.SendBatch(ctx, batch)
	defer res.Close()

	for range notices {
		if _, err := res.Exec(); err != nil {
			return err
		}
	}
	return nil
}
