// Package format turns query result rows into response bodies. Encoding is
// selected once per request and is a pure function of the rows, independent
// of query logic.
package format

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/rollup"
)

// Format selects the response encoding.
type Format string

const (
	JSON    Format = "json"
	CSV     Format = "csv"
	GeoJSON Format = "geojson"
)

// legacy endpoints emit minute-precision timestamps
const legacyTimeLayout = "2006-01-02T15:04"

// Parse resolves a request parameter into a Format. An empty value falls
// back to def.
func Parse(s string, def Format) (Format, error) {
	switch Format(s) {
	case "":
		return def, nil
	case JSON, CSV, GeoJSON:
		return Format(s), nil
	default:
		return def, fmt.Errorf("invalid output format %q", s)
	}
}

// ContentType returns the media type for the format.
func (f Format) ContentType() string {
	switch f {
	case CSV:
		return "text/csv"
	case GeoJSON:
		return "application/geo+json"
	default:
		return "application/json"
	}
}

// ReadingRow is one flat (station, time, sensor, dimension, value) result
// row. Queries return rows ordered by device, then time, then sensor model.
type ReadingRow struct {
	Device      string
	Time        time.Time
	SensorModel int
	Dimension   int
	Value       float64
	Lat         *float64
	Lon         *float64
	Height      *float64
	Calibration bool
}

type dimValue struct {
	Dimension int     `json:"dimension"`
	Value     float64 `json:"value"`
}

// EncodeReadings renders raw reading rows in the requested format.
func EncodeReadings(rows []ReadingRow, f Format) ([]byte, error) {
	switch f {
	case CSV:
		return readingsCSV(rows)
	case GeoJSON:
		return readingsGeoJSON(rows)
	default:
		return readingsJSON(rows)
	}
}

func readingsCSV(rows []ReadingRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"device", "lat", "lon", "time_measured", "height", "sensor_model", "dimension", "value", "calibration"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.Device,
			floatPtrString(r.Lat),
			floatPtrString(r.Lon),
			r.Time.UTC().Format(time.RFC3339),
			floatPtrString(r.Height),
			strconv.Itoa(r.SensorModel),
			strconv.Itoa(r.Dimension),
			floatString(r.Value),
			strconv.FormatBool(r.Calibration),
		})
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func readingsJSON(rows []ReadingRow) ([]byte, error) {
	type entry struct {
		Device       string     `json:"device"`
		TimeMeasured string     `json:"time_measured"`
		Calibration  bool       `json:"calibration,omitempty"`
		Values       []dimValue `json:"values"`
	}

	entries := make([]entry, 0)
	for _, r := range rows {
		n := len(entries)
		ts := r.Time.UTC().Format(time.RFC3339)
		if n == 0 || entries[n-1].Device != r.Device || entries[n-1].TimeMeasured != ts ||
			entries[n-1].Calibration != r.Calibration {
			entries = append(entries, entry{Device: r.Device, TimeMeasured: ts, Calibration: r.Calibration})
			n++
		}
		entries[n-1].Values = append(entries[n-1].Values, dimValue{Dimension: r.Dimension, Value: r.Value})
	}
	return json.Marshal(entries)
}

func readingsGeoJSON(rows []ReadingRow) ([]byte, error) {
	type sensor struct {
		SensorModel int        `json:"sensor_model"`
		Values      []dimValue `json:"values"`
	}
	type properties struct {
		Device      string   `json:"device"`
		Time        string   `json:"time"`
		Height      *float64 `json:"height,omitempty"`
		Calibration bool     `json:"calibration,omitempty"`
		Sensors     []sensor `json:"sensors"`
	}
	type geometry struct {
		Type        string     `json:"type"`
		Coordinates [2]float64 `json:"coordinates"`
	}
	type feature struct {
		Type       string     `json:"type"`
		Geometry   *geometry  `json:"geometry"`
		Properties properties `json:"properties"`
	}

	features := make([]feature, 0)
	for _, r := range rows {
		n := len(features)
		if n == 0 || features[n-1].Properties.Device != r.Device ||
			features[n-1].Properties.Calibration != r.Calibration {
			var geom *geometry
			if r.Lat != nil && r.Lon != nil {
				geom = &geometry{Type: "Point", Coordinates: [2]float64{*r.Lon, *r.Lat}}
			}
			features = append(features, feature{
				Type:     "Feature",
				Geometry: geom,
				Properties: properties{
					Device:      r.Device,
					Time:        r.Time.UTC().Format(time.RFC3339),
					Height:      r.Height,
					Calibration: r.Calibration,
					Sensors:     []sensor{},
				},
			})
			n++
		}

		sensors := features[n-1].Properties.Sensors
		if len(sensors) == 0 || sensors[len(sensors)-1].SensorModel != r.SensorModel {
			sensors = append(sensors, sensor{SensorModel: r.SensorModel})
		}
		sensors[len(sensors)-1].Values = append(sensors[len(sensors)-1].Values,
			dimValue{Dimension: r.Dimension, Value: r.Value})
		features[n-1].Properties.Sensors = sensors
	}

	return json.Marshal(map[string]any{
		"type":     "FeatureCollection",
		"features": features,
	})
}

// StationRow is one station metadata row for the station inventory listing.
type StationRow struct {
	Device           string
	LastActive       *time.Time
	Lat              *float64
	Lon              *float64
	MeasurementCount int64
}

// EncodeStations renders the station inventory. An empty slice renders an
// empty, well-formed document in every format.
func EncodeStations(rows []StationRow, f Format) ([]byte, error) {
	switch f {
	case CSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"id", "last_active", "location_lat", "location_lon", "measurements_count"})
		for _, r := range rows {
			_ = w.Write([]string{
				r.Device,
				timePtrString(r.LastActive),
				floatPtrString(r.Lat),
				floatPtrString(r.Lon),
				strconv.FormatInt(r.MeasurementCount, 10),
			})
		}
		w.Flush()
		return buf.Bytes(), w.Error()

	case GeoJSON:
		type feature struct {
			Type       string         `json:"type"`
			Geometry   map[string]any `json:"geometry"`
			Properties map[string]any `json:"properties"`
		}
		features := make([]feature, 0, len(rows))
		for _, r := range rows {
			var geom map[string]any
			if r.Lat != nil && r.Lon != nil {
				geom = map[string]any{"type": "Point", "coordinates": [2]float64{*r.Lon, *r.Lat}}
			}
			props := map[string]any{
				"id":                 r.Device,
				"measurements_count": r.MeasurementCount,
			}
			if r.LastActive != nil {
				props["last_active"] = r.LastActive.UTC().Format(time.RFC3339)
			}
			features = append(features, feature{Type: "Feature", Geometry: geom, Properties: props})
		}
		return json.Marshal(map[string]any{"type": "FeatureCollection", "features": features})

	default:
		type location struct {
			Lat *float64 `json:"lat"`
			Lon *float64 `json:"lon"`
		}
		type entry struct {
			ID               string     `json:"id"`
			LastActive       *time.Time `json:"last_active"`
			Location         location   `json:"location"`
			MeasurementCount int64      `json:"measurements_count"`
		}
		entries := make([]entry, 0, len(rows))
		for _, r := range rows {
			entries = append(entries, entry{
				ID:               r.Device,
				LastActive:       r.LastActive,
				Location:         location{Lat: r.Lat, Lon: r.Lon},
				MeasurementCount: r.MeasurementCount,
			})
		}
		return json.Marshal(entries)
	}
}

// HourlyRow is one rolled-up (station, hour) result row.
type HourlyRow struct {
	Device     string
	Hour       time.Time
	Lat        *float64
	Lon        *float64
	Dimensions map[int]rollup.Stat
}

// EncodeHourly renders rollup rows in the requested format.
func EncodeHourly(rows []HourlyRow, f Format) ([]byte, error) {
	switch f {
	case CSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"device", "hour", "dimension", "avg", "count"})
		for _, r := range rows {
			for _, dim := range sortedDimensions(r.Dimensions) {
				stat := r.Dimensions[dim]
				_ = w.Write([]string{
					r.Device,
					r.Hour.UTC().Format(time.RFC3339),
					strconv.Itoa(dim),
					floatString(stat.Avg),
					strconv.FormatInt(stat.Count, 10),
				})
			}
		}
		w.Flush()
		return buf.Bytes(), w.Error()

	case GeoJSON:
		type feature struct {
			Type       string         `json:"type"`
			Geometry   map[string]any `json:"geometry"`
			Properties map[string]any `json:"properties"`
		}
		features := make([]feature, 0, len(rows))
		for _, r := range rows {
			var geom map[string]any
			if r.Lat != nil && r.Lon != nil {
				geom = map[string]any{"type": "Point", "coordinates": [2]float64{*r.Lon, *r.Lat}}
			}
			features = append(features, feature{
				Type:     "Feature",
				Geometry: geom,
				Properties: map[string]any{
					"device":     r.Device,
					"hour":       r.Hour.UTC().Format(time.RFC3339),
					"dimensions": r.Dimensions,
				},
			})
		}
		return json.Marshal(map[string]any{"type": "FeatureCollection", "features": features})

	default:
		type entry struct {
			Device     string              `json:"device"`
			Hour       time.Time           `json:"hour"`
			Dimensions map[int]rollup.Stat `json:"dimensions"`
		}
		entries := make([]entry, 0, len(rows))
		for _, r := range rows {
			entries = append(entries, entry{Device: r.Device, Hour: r.Hour.UTC(), Dimensions: r.Dimensions})
		}
		return json.Marshal(entries)
	}
}

// LegacyHistoryCSV flattens rollup rows into the historical station export
// shape older consumers expect: device,time_measured,dimension,value.
func LegacyHistoryCSV(rows []HourlyRow) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"device", "time_measured", "dimension", "value"})
	for _, r := range rows {
		for _, dim := range sortedDimensions(r.Dimensions) {
			_ = w.Write([]string{
				r.Device,
				r.Hour.UTC().Format(legacyTimeLayout),
				strconv.Itoa(dim),
				floatString(r.Dimensions[dim].Avg),
			})
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// RankRow is one entry of a top-N ranking result.
type RankRow struct {
	Device string  `json:"device"`
	Value  float64 `json:"value"`
}

// EncodeRank renders a ranking result. Rows are already ordered.
func EncodeRank(rows []RankRow, f Format) ([]byte, error) {
	switch f {
	case CSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"rank", "device", "value"})
		for i, r := range rows {
			_ = w.Write([]string{strconv.Itoa(i + 1), r.Device, floatString(r.Value)})
		}
		w.Flush()
		return buf.Bytes(), w.Error()

	case GeoJSON:
		type feature struct {
			Type       string         `json:"type"`
			Geometry   map[string]any `json:"geometry"`
			Properties map[string]any `json:"properties"`
		}
		features := make([]feature, 0, len(rows))
		for i, r := range rows {
			features = append(features, feature{
				Type: "Feature",
				Properties: map[string]any{
					"rank":   i + 1,
					"device": r.Device,
					"value":  r.Value,
				},
			})
		}
		return json.Marshal(map[string]any{"type": "FeatureCollection", "features": features})

	default:
		return json.Marshal(rows)
	}
}

func sortedDimensions(m map[int]rollup.Stat) []int {
	dims := make([]int, 0, len(m))
	for d := range m {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims
}

func floatString(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func floatPtrString(v *float64) string {
	if v == nil {
		return ""
	}
	return floatString(*v)
}

func timePtrString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
