// Package watch decides which silent stations need a status notice. All
// decisions are pure functions over fetched rows so they can be tested
// without a database.
package watch

import (
	"fmt"
	"time"
)

// Status levels written to station_status. Values match what station
// firmware reports for its own messages.
const (
	LevelWarning  = 2
	LevelCritical = 3
)

// Station is one station's activity snapshot. LastActive is nil for
// stations that never reported.
type Station struct {
	ID         int64
	Device     string
	LastActive *time.Time
}

// Notice is a pending station_status row flagging a silent station.
type Notice struct {
	StationID int64
	Device    string
	Level     int
	Message   string
	At        time.Time
}

// LastNotice is the newest silence notice already stored for a station.
type LastNotice struct {
	Level int
	At    time.Time
}

// Classify maps a silence duration to a notice level. The bool is false
// while the station is still considered live.
func Classify(silentFor, staleAfter, criticalAfter time.Duration) (int, bool) {
	switch {
	case silentFor >= criticalAfter:
		return LevelCritical, true
	case silentFor >= staleAfter:
		return LevelWarning, true
	default:
		return 0, false
	}
}

// BuildNotices returns the notices to insert for this sweep. A station is
// skipped when a notice at the same or higher level already exists for its
// current silence window, so repeated sweeps stay idempotent.
func BuildNotices(stations []Station, last map[int64]LastNotice, now time.Time, staleAfter, criticalAfter time.Duration) []Notice {
	out := make([]Notice, 0)
	for _, st := range stations {
		var silentSince time.Time
		var silentFor time.Duration
		if st.LastActive != nil {
			silentSince = st.LastActive.UTC()
			silentFor = now.Sub(silentSince)
		} else {
			// never reported: treat as silent forever
			silentFor = criticalAfter
		}

		level, flag := Classify(silentFor, staleAfter, criticalAfter)
		if !flag {
			continue
		}

		if prev, ok := last[st.ID]; ok && prev.Level >= level && !prev.At.Before(silentSince) {
			continue
		}

		msg := fmt.Sprintf("station silent since %s", silentSince.Format(time.RFC3339))
		if st.LastActive == nil {
			msg = "station silent: never reported"
		}
		out = append(out, Notice{
			StationID: st.ID,
			Device:    st.Device,
			Level:     level,
			Message:   msg,
			At:        now,
		})
	}
	return out
}
