package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/config"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/db"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/dimension"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/format"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/health"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/scheduler"
)

type fakeStore struct {
	ingestRes        *db.IngestResult
	ingestErr        error
	gotBatch         db.ReadingBatch
	calibrationCalls int

	statusErr error

	station    *db.Station
	stationErr error

	stations    []format.StationRow
	stationsErr error

	readings    []format.ReadingRow
	readingsErr error
	gotCurrent  db.CurrentQuery

	hourly        []format.HourlyRow
	hourlyErr     error
	gotHistorical db.HistoricalQuery

	latestRank []db.RankEntry
	rollupRank []db.RankEntry

	calRecords []db.CalibrationRecord
	gotCal     db.CalibrationQuery

	stats    *db.Statistics
	statsErr error

	gotLevel int
}

func (f *fakeStore) AcceptReadings(ctx context.Context, batch db.ReadingBatch) (*db.IngestResult, error) {
	f.gotBatch = batch
	return f.ingestRes, f.ingestErr
}

func (f *fakeStore) AcceptCalibration(ctx context.Context, batch db.ReadingBatch) (*db.IngestResult, error) {
	f.gotBatch = batch
	f.calibrationCalls++
	return f.ingestRes, f.ingestErr
}

func (f *fakeStore) AppendStatus(ctx context.Context, device string, level int, message string, ts time.Time) error {
	f.gotLevel = level
	return f.statusErr
}

func (f *fakeStore) GetStation(ctx context.Context, device string) (*db.Station, error) {
	return f.station, f.stationErr
}

func (f *fakeStore) ListStations(ctx context.Context) ([]format.StationRow, error) {
	return f.stations, f.stationsErr
}

func (f *fakeStore) CurrentReadings(ctx context.Context, q db.CurrentQuery) ([]format.ReadingRow, error) {
	f.gotCurrent = q
	return f.readings, f.readingsErr
}

func (f *fakeStore) HistoricalAverages(ctx context.Context, q db.HistoricalQuery) ([]format.HourlyRow, error) {
	f.gotHistorical = q
	return f.hourly, f.hourlyErr
}

func (f *fakeStore) LatestDimensionValues(ctx context.Context, dim int) ([]db.RankEntry, error) {
	return f.latestRank, nil
}

func (f *fakeStore) RollupDimensionValues(ctx context.Context, dim int) ([]db.RankEntry, error) {
	return f.rollupRank, nil
}

func (f *fakeStore) CalibrationRecords(ctx context.Context, q db.CalibrationQuery) ([]db.CalibrationRecord, error) {
	f.gotCal = q
	return f.calRecords, nil
}

func (f *fakeStore) Statistics(ctx context.Context) (*db.Statistics, error) {
	return f.stats, f.statsErr
}

type fakePinger struct {
	err error
}

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeRegistry struct {
	jobs       []scheduler.JobStatus
	triggerErr error
	triggered  []string
}

func (f *fakeRegistry) Jobs() []scheduler.JobStatus { return f.jobs }

func (f *fakeRegistry) NextRun(name string) (time.Time, bool) { return time.Time{}, false }

func (f *fakeRegistry) TriggerNow(name string) error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.triggered = append(f.triggered, name)
	return nil
}

func healthyJob() scheduler.JobStatus {
	return scheduler.JobStatus{
		Name:     "hourly_rollup",
		Interval: time.Hour,
		LastRun:  time.Now().Add(-time.Minute),
		Runs:     1,
	}
}

func newTestServer(store Store, ping error, reg *fakeRegistry) *Server {
	cfg := config.Config{Port: 8080, StaleAfter: time.Hour}
	monitor := health.NewMonitor(fakePinger{err: ping}, reg, "hourly_rollup", time.Second, "test")
	return New(cfg, store, monitor, reg, zerolog.Nop())
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func validIngestBody(measured time.Time) string {
	return fmt.Sprintf(`{
		"station": {"device": "st-01", "apikey": "secret", "firmware": "2.1.0", "time": %q},
		"sensors": {
			"sen55": {"type": 1, "data": {"4": 12.5, "5": 14.0}},
			"bmp280": {"type": 5, "data": {"9": 21.3}}
		}
	}`, measured.Format(time.RFC3339))
}

func TestIngestAcceptsBatch(t *testing.T) {
	store := &fakeStore{ingestRes: &db.IngestResult{MeasurementIDs: []int64{7, 8}, Created: 2}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodPost, "/v1/station/data", validIngestBody(time.Now().Add(-time.Minute)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"created":2`)

	assert.Equal(t, "st-01", store.gotBatch.Device)
	assert.Equal(t, "secret", store.gotBatch.APIKey)
	require.NotNil(t, store.gotBatch.Firmware)
	assert.Equal(t, "2.1.0", *store.gotBatch.Firmware)
	require.Len(t, store.gotBatch.Readings, 2)
	assert.Zero(t, store.calibrationCalls)
}

func TestIngestAcceptsReadingWithinSkewGrace(t *testing.T) {
	store := &fakeStore{ingestRes: &db.IngestResult{Created: 2}}
	s := newTestServer(store, nil, &fakeRegistry{})

	// station clocks may run a little ahead, readings inside the grace pass
	rec := serve(s, http.MethodPost, "/v1/station/data", validIngestBody(time.Now().Add(2*time.Minute)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, store.gotBatch.Readings, 2)
}

func TestIngestCalibrationUsesCalibrationPath(t *testing.T) {
	store := &fakeStore{ingestRes: &db.IngestResult{}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodPost, "/v1/station/calibration", validIngestBody(time.Now().Add(-time.Minute)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, store.calibrationCalls)
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"station":`},
		{name: "missing sensors", body: `{"station": {"device": "st-01", "time": "2024-04-29T08:25:00Z"}}`},
		{
			name: "future timestamp",
			body: validIngestBody(time.Now().Add(time.Hour)),
		},
		{
			name: "timestamp past the skew grace",
			body: validIngestBody(time.Now().Add(6 * time.Minute)),
		},
		{
			name: "invalid dimension",
			body: `{
				"station": {"device": "st-01", "time": "2024-04-29T08:25:00Z"},
				"sensors": {"sen55": {"type": 1, "data": {"0": 1.0}}}
			}`,
		},
		{
			name: "unassigned dimension",
			body: `{
				"station": {"device": "st-01", "time": "2024-04-29T08:25:00Z"},
				"sensors": {"sen55": {"type": 1, "data": {"99": 1.0}}}
			}`,
		},
		{
			name: "empty sensor data",
			body: `{
				"station": {"device": "st-01", "time": "2024-04-29T08:25:00Z"},
				"sensors": {"sen55": {"type": 1, "data": {}}}
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{ingestRes: &db.IngestResult{}}
			s := newTestServer(store, nil, &fakeRegistry{})

			rec := serve(s, http.MethodPost, "/v1/station/data", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Empty(t, store.gotBatch.Device, "store must not be reached")
		})
	}
}

func TestIngestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: fmt.Errorf("station %q: %w", "st-01", db.ErrBadAPIKey), code: http.StatusUnauthorized},
		{err: fmt.Errorf("station %q: %w", "st-01", db.ErrUnknownStation), code: http.StatusNotFound},
		{err: fmt.Errorf("write failed"), code: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		store := &fakeStore{ingestErr: tt.err}
		s := newTestServer(store, nil, &fakeRegistry{})

		rec := serve(s, http.MethodPost, "/v1/station/data", validIngestBody(time.Now().Add(-time.Minute)))
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestInternalErrorBodyIsOpaque(t *testing.T) {
	store := &fakeStore{ingestErr: fmt.Errorf("pq: relation aq.values does not exist")}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodPost, "/v1/station/data", validIngestBody(time.Now().Add(-time.Minute)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "relation")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestStatusReport(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, nil, &fakeRegistry{})

	body := `{
		"station": {"device": "st-01", "time": "2024-04-29T08:25:00Z"},
		"status": {"level": 2, "message": "low battery"}
	}`
	rec := serve(s, http.MethodPost, "/v1/station/status", body)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, store.gotLevel)
}

func TestStatusReportAcceptsCriticalLevel(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, nil, &fakeRegistry{})

	body := fmt.Sprintf(`{
		"station": {"device": "st-01", "time": "2024-04-29T08:25:00Z"},
		"status": {"level": %d, "message": "sensor fault"}
	}`, dimension.LevelCritical)
	rec := serve(s, http.MethodPost, "/v1/station/status", body)

	// levels are stored as reported, even critical ones
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dimension.LevelCritical, store.gotLevel)
}

func currentRows() []format.ReadingRow {
	lat, lon := 6.25, -75.57
	return []format.ReadingRow{
		{Device: "st-01", Time: time.Now().UTC().Truncate(time.Second), SensorModel: 1, Dimension: 4, Value: 12.5, Lat: &lat, Lon: &lon},
	}
}

func TestCurrentDefaultsToGeoJSON(t *testing.T) {
	store := &fakeStore{readings: currentRows()}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/current", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/geo+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "FeatureCollection")
	assert.False(t, store.gotCurrent.IncludeCalibration)
	assert.Empty(t, store.gotCurrent.Devices)
}

func TestCurrentPassesFilters(t *testing.T) {
	store := &fakeStore{readings: currentRows()}
	s := newTestServer(store, nil, &fakeRegistry{})

	before := time.Now()
	rec := serve(s, http.MethodGet,
		"/v1/station/current?station_ids=st-01,st-02&last_active=600&include_calibration=true&output_format=json", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"st-01", "st-02"}, store.gotCurrent.Devices)
	assert.True(t, store.gotCurrent.IncludeCalibration)

	wantSince := before.Add(-600 * time.Second)
	assert.WithinDuration(t, wantSince, store.gotCurrent.ActiveSince, 5*time.Second)
}

func TestCurrentNoMatchesIs404(t *testing.T) {
	store := &fakeStore{}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/current?station_ids=ghost", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCurrentRejectsBadParams(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil, &fakeRegistry{})

	for _, target := range []string{
		"/v1/station/current?last_active=soon",
		"/v1/station/current?last_active=-5",
		"/v1/station/current?include_calibration=kinda",
		"/v1/station/current?output_format=xml",
	} {
		rec := serve(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHistoricalRequiresStationsAndFrom(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil, &fakeRegistry{})

	for _, target := range []string{
		"/v1/station/historical",
		"/v1/station/historical?station_ids=st-01",
		"/v1/station/historical?station_ids=st-01&from=whenever",
		"/v1/station/historical?station_ids=st-01&from=2024-04-29T10:00&to=2024-04-29T08:00",
	} {
		rec := serve(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHistoricalReturnsRollupRows(t *testing.T) {
	hour := time.Date(2024, 4, 29, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{hourly: []format.HourlyRow{{Device: "st-01", Hour: hour}}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/historical?station_ids=st-01&from=2024-04-29T00:00&to=current", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"st-01"}, store.gotHistorical.Devices)
	assert.Equal(t, time.Date(2024, 4, 29, 0, 0, 0, 0, time.UTC), store.gotHistorical.From)
	assert.WithinDuration(t, time.Now(), store.gotHistorical.To, 5*time.Second)
}

func TestLegacyHistoryKeepsOldShape(t *testing.T) {
	hour := time.Date(2024, 4, 29, 8, 0, 0, 0, time.UTC)
	store := &fakeStore{hourly: []format.HourlyRow{{Device: "st-01", Hour: hour}}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/history?station_ids=st-01&start=2024-04-29T00:00&smooth=true", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Body.String(), "device,time_measured,dimension,value"))
}

func TestAllStationsEmptyIsOK(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/all", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "stations.csv")
	assert.Equal(t, "id,last_active,location_lat,location_lon,measurements_count\n", rec.Body.String())
}

func TestTopNRanksAndTruncates(t *testing.T) {
	store := &fakeStore{latestRank: []db.RankEntry{
		{Device: "st-01", Value: 10},
		{Device: "st-02", Value: 30},
		{Device: "st-03", Value: 20},
	}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/topn?dimension=4&n=2", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `[{"device":"st-02","value":30},{"device":"st-03","value":20}]`, rec.Body.String())
}

func TestTopNRollupBasis(t *testing.T) {
	store := &fakeStore{rollupRank: []db.RankEntry{{Device: "st-01", Value: 5}}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/topn?dimension=4&basis=rollup", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "st-01")
}

func TestTopNValidation(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil, &fakeRegistry{})

	for _, target := range []string{
		"/v1/station/topn",
		"/v1/station/topn?dimension=0",
		"/v1/station/topn?dimension=4&n=0",
		"/v1/station/topn?dimension=4&basis=median",
	} {
		rec := serve(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestStationInfo(t *testing.T) {
	store := &fakeStore{station: &db.Station{Device: "st-01", Source: 1}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/info/st-01", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"device":"st-01"`)
	// credentials never leave the storage layer
	assert.NotContains(t, rec.Body.String(), "apikey")
}

func TestStationInfoUnknown(t *testing.T) {
	store := &fakeStore{stationErr: fmt.Errorf("station %q: %w", "ghost", db.ErrUnknownStation)}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/info/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQueryCalibrationSuppressedValues(t *testing.T) {
	store := &fakeStore{calRecords: []db.CalibrationRecord{{Device: "st-01", SensorModel: 1}}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/station/calibration?station_ids=st-01&data=false", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, store.gotCal.IncludeValues)
	assert.Equal(t, []string{"st-01"}, store.gotCal.Devices)
	assert.Contains(t, rec.Body.String(), `"includes_values":false`)
}

func TestStatistics(t *testing.T) {
	store := &fakeStore{stats: &db.Statistics{ActiveStations: map[string]int64{"last_hour": 3}}}
	s := newTestServer(store, nil, &fakeRegistry{})

	rec := serve(s, http.MethodGet, "/v1/statistics", "")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"last_hour":3`)
}

func TestHealthEndpoints(t *testing.T) {
	reg := &fakeRegistry{jobs: []scheduler.JobStatus{healthyJob()}}
	s := newTestServer(&fakeStore{}, nil, reg)

	rec := serve(s, http.MethodGet, "/v1/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(s, http.MethodGet, "/v1/health/simple", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestHealthFullStorageDownIs503(t *testing.T) {
	reg := &fakeRegistry{jobs: []scheduler.JobStatus{healthyJob()}}
	s := newTestServer(&fakeStore{}, fmt.Errorf("connection refused"), reg)

	rec := serve(s, http.MethodGet, "/v1/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "unhealthy")
}

func TestAdminJobs(t *testing.T) {
	reg := &fakeRegistry{jobs: []scheduler.JobStatus{healthyJob()}}
	s := newTestServer(&fakeStore{}, nil, reg)

	rec := serve(s, http.MethodGet, "/v1/admin/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hourly_rollup")

	rec = serve(s, http.MethodPost, "/v1/admin/jobs/hourly_rollup/run", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"hourly_rollup"}, reg.triggered)
}

func TestAdminTriggerUnknownJob(t *testing.T) {
	reg := &fakeRegistry{triggerErr: fmt.Errorf("job %q: not registered", "ghost")}
	s := newTestServer(&fakeStore{}, nil, reg)

	rec := serve(s, http.MethodPost, "/v1/admin/jobs/ghost/run", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(&fakeStore{}, nil, &fakeRegistry{jobs: []scheduler.JobStatus{healthyJob()}})

	rec := serve(s, http.MethodGet, "/v1/health/simple", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/v1/health/simple", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
