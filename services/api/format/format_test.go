package format

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/rollup"
)

func fptr(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		def     Format
		want    Format
		wantErr bool
	}{
		{in: "", def: CSV, want: CSV},
		{in: "json", def: CSV, want: JSON},
		{in: "csv", def: JSON, want: CSV},
		{in: "geojson", def: JSON, want: GeoJSON},
		{in: "xml", def: JSON, wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in, tt.def)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/json", JSON.ContentType())
	assert.Equal(t, "text/csv", CSV.ContentType())
	assert.Equal(t, "application/geo+json", GeoJSON.ContentType())
}

func sampleReadings() []ReadingRow {
	at := time.Date(2024, 4, 29, 8, 25, 0, 0, time.UTC)
	return []ReadingRow{
		{Device: "st-01", Time: at, SensorModel: 1, Dimension: 4, Value: 12.5, Lat: fptr(6.25), Lon: fptr(-75.57), Height: fptr(1500)},
		{Device: "st-01", Time: at, SensorModel: 1, Dimension: 5, Value: 14, Lat: fptr(6.25), Lon: fptr(-75.57), Height: fptr(1500)},
		{Device: "st-01", Time: at, SensorModel: 2, Dimension: 9, Value: 21.3, Lat: fptr(6.25), Lon: fptr(-75.57), Height: fptr(1500)},
		{Device: "st-02", Time: at.Add(time.Minute), SensorModel: 1, Dimension: 4, Value: 7},
	}
}

func TestEncodeReadingsCSV(t *testing.T) {
	body, err := EncodeReadings(sampleReadings(), CSV)
	require.NoError(t, err)

	lines := splitLines(t, body)
	require.Len(t, lines, 5)
	assert.Equal(t, "device,lat,lon,time_measured,height,sensor_model,dimension,value,calibration", lines[0])
	assert.Equal(t, "st-01,6.25,-75.57,2024-04-29T08:25:00Z,1500,1,4,12.5,false", lines[1])
	// a station without a location renders empty coordinate columns
	assert.Equal(t, "st-02,,,2024-04-29T08:26:00Z,,1,4,7,false", lines[4])
}

func TestEncodeReadingsRendersCalibrationFlag(t *testing.T) {
	at := time.Date(2024, 4, 29, 8, 25, 0, 0, time.UTC)
	rows := []ReadingRow{
		{Device: "st-01", Time: at, SensorModel: 1, Dimension: 4, Value: 12.5},
		{Device: "st-01", Time: at, SensorModel: 1, Dimension: 4, Value: 11.9, Calibration: true},
	}

	body, err := EncodeReadings(rows, CSV)
	require.NoError(t, err)
	lines := splitLines(t, body)
	require.Len(t, lines, 3)
	assert.Equal(t, "st-01,,,2024-04-29T08:25:00Z,,1,4,12.5,false", lines[1])
	assert.Equal(t, "st-01,,,2024-04-29T08:25:00Z,,1,4,11.9,true", lines[2])

	body, err = EncodeReadings(rows, JSON)
	require.NoError(t, err)
	var entries []struct {
		Device      string `json:"device"`
		Calibration bool   `json:"calibration"`
		Values      []struct {
			Value float64 `json:"value"`
		} `json:"values"`
	}
	require.NoError(t, json.Unmarshal(body, &entries))
	// calibration readings stay in their own entry instead of merging with
	// the sensor's own report for the same instant
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Calibration)
	assert.True(t, entries[1].Calibration)

	body, err = EncodeReadings(rows, GeoJSON)
	require.NoError(t, err)
	var fc struct {
		Features []struct {
			Properties struct {
				Device      string `json:"device"`
				Calibration bool   `json:"calibration"`
			} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(body, &fc))
	require.Len(t, fc.Features, 2)
	assert.False(t, fc.Features[0].Properties.Calibration)
	assert.True(t, fc.Features[1].Properties.Calibration)
}

func TestEncodeReadingsJSONGroupsByDeviceAndTime(t *testing.T) {
	body, err := EncodeReadings(sampleReadings(), JSON)
	require.NoError(t, err)

	var entries []struct {
		Device       string `json:"device"`
		TimeMeasured string `json:"time_measured"`
		Values       []struct {
			Dimension int     `json:"dimension"`
			Value     float64 `json:"value"`
		} `json:"values"`
	}
	require.NoError(t, json.Unmarshal(body, &entries))

	require.Len(t, entries, 2)
	assert.Equal(t, "st-01", entries[0].Device)
	assert.Len(t, entries[0].Values, 3)
	assert.Equal(t, "st-02", entries[1].Device)
	assert.Len(t, entries[1].Values, 1)
}

func TestEncodeReadingsGeoJSON(t *testing.T) {
	body, err := EncodeReadings(sampleReadings(), GeoJSON)
	require.NoError(t, err)

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry *struct {
				Type        string     `json:"type"`
				Coordinates [2]float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties struct {
				Device  string `json:"device"`
				Sensors []struct {
					SensorModel int `json:"sensor_model"`
					Values      []struct {
						Dimension int `json:"dimension"`
					} `json:"values"`
				} `json:"sensors"`
			} `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(body, &fc))

	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 2)

	first := fc.Features[0]
	require.NotNil(t, first.Geometry)
	// GeoJSON coordinate order is lon, lat
	assert.Equal(t, [2]float64{-75.57, 6.25}, first.Geometry.Coordinates)
	require.Len(t, first.Properties.Sensors, 2)
	assert.Len(t, first.Properties.Sensors[0].Values, 2)

	assert.Nil(t, fc.Features[1].Geometry)
}

func TestEncodeReadingsEmpty(t *testing.T) {
	body, err := EncodeReadings(nil, JSON)
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(body))

	body, err = EncodeReadings(nil, GeoJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"FeatureCollection","features":[]}`, string(body))
}

func TestEncodeStationsCSV(t *testing.T) {
	active := time.Date(2024, 4, 29, 8, 0, 0, 0, time.UTC)
	rows := []StationRow{
		{Device: "st-01", LastActive: &active, Lat: fptr(6.25), Lon: fptr(-75.57), MeasurementCount: 42},
		{Device: "st-02"},
	}

	body, err := EncodeStations(rows, CSV)
	require.NoError(t, err)

	lines := splitLines(t, body)
	require.Len(t, lines, 3)
	assert.Equal(t, "id,last_active,location_lat,location_lon,measurements_count", lines[0])
	assert.Equal(t, "st-01,2024-04-29T08:00:00Z,6.25,-75.57,42", lines[1])
	assert.Equal(t, "st-02,,,,0", lines[2])
}

func TestEncodeStationsEmptyCSVKeepsHeader(t *testing.T) {
	body, err := EncodeStations(nil, CSV)
	require.NoError(t, err)

	lines := splitLines(t, body)
	require.Len(t, lines, 1)
	assert.Equal(t, "id,last_active,location_lat,location_lon,measurements_count", lines[0])
}

func sampleHourly() []HourlyRow {
	hour := time.Date(2024, 4, 29, 8, 0, 0, 0, time.UTC)
	return []HourlyRow{
		{
			Device: "st-01",
			Hour:   hour,
			Lat:    fptr(6.25),
			Lon:    fptr(-75.57),
			Dimensions: map[int]rollup.Stat{
				5: {Avg: 14, Count: 12},
				4: {Avg: 12.5, Count: 12},
			},
		},
	}
}

func TestEncodeHourlyCSVOrdersDimensions(t *testing.T) {
	body, err := EncodeHourly(sampleHourly(), CSV)
	require.NoError(t, err)

	lines := splitLines(t, body)
	require.Len(t, lines, 3)
	assert.Equal(t, "device,hour,dimension,avg,count", lines[0])
	assert.Equal(t, "st-01,2024-04-29T08:00:00Z,4,12.5,12", lines[1])
	assert.Equal(t, "st-01,2024-04-29T08:00:00Z,5,14,12", lines[2])
}

func TestEncodeHourlyJSON(t *testing.T) {
	body, err := EncodeHourly(sampleHourly(), JSON)
	require.NoError(t, err)

	var entries []struct {
		Device     string `json:"device"`
		Dimensions map[string]struct {
			Avg   float64 `json:"avg"`
			Count int64   `json:"cnt"`
		} `json:"dimensions"`
	}
	require.NoError(t, json.Unmarshal(body, &entries))

	require.Len(t, entries, 1)
	assert.Equal(t, 12.5, entries[0].Dimensions["4"].Avg)
	assert.Equal(t, int64(12), entries[0].Dimensions["5"].Count)
}

func TestLegacyHistoryCSV(t *testing.T) {
	body, err := LegacyHistoryCSV(sampleHourly())
	require.NoError(t, err)

	lines := splitLines(t, body)
	require.Len(t, lines, 3)
	assert.Equal(t, "device,time_measured,dimension,value", lines[0])
	// legacy consumers expect minute precision without a zone suffix
	assert.Equal(t, "st-01,2024-04-29T08:00,4,12.5", lines[1])
}

func TestEncodeRank(t *testing.T) {
	rows := []RankRow{{Device: "st-02", Value: 30}, {Device: "st-01", Value: 20}}

	body, err := EncodeRank(rows, CSV)
	require.NoError(t, err)
	lines := splitLines(t, body)
	require.Len(t, lines, 3)
	assert.Equal(t, "rank,device,value", lines[0])
	assert.Equal(t, "1,st-02,30", lines[1])
	assert.Equal(t, "2,st-01,20", lines[2])

	body, err = EncodeRank(rows, JSON)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"device":"st-02","value":30},{"device":"st-01","value":20}]`, string(body))
}

func splitLines(t *testing.T, body []byte) []string {
	t.Helper()
	s := string(body)
	require.NotEmpty(t, s)
	require.Equal(t, byte('\n'), s[len(s)-1], "csv output ends with a newline")

	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
