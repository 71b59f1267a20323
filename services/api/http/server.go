package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/config"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/db"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/format"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/health"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/scheduler"
)

// Store is the storage surface the handlers depend on. *db.Store implements
// it; tests substitute a fake.
type Store interface {
	AcceptReadings(ctx context.Context, batch db.ReadingBatch) (*db.IngestResult, error)
	AcceptCalibration(ctx context.Context, batch db.ReadingBatch) (*db.IngestResult, error)
	AppendStatus(ctx context.Context, device string, level int, message string, ts time.Time) error
	GetStation(ctx context.Context, device string) (*db.Station, error)
	ListStations(ctx context.Context) ([]format.StationRow, error)
	CurrentReadings(ctx context.Context, q db.CurrentQuery) ([]format.ReadingRow, error)
	HistoricalAverages(ctx context.Context, q db.HistoricalQuery) ([]format.HourlyRow, error)
	LatestDimensionValues(ctx context.Context, dim int) ([]db.RankEntry, error)
	RollupDimensionValues(ctx context.Context, dim int) ([]db.RankEntry, error)
	CalibrationRecords(ctx context.Context, q db.CalibrationQuery) ([]db.CalibrationRecord, error)
	Statistics(ctx context.Context) (*db.Statistics, error)
}

// Server bundles router and dependencies for the REST API.
type Server struct {
	cfg      config.Config
	store    Store
	monitor  *health.Monitor
	registry scheduler.Registry
	engine   *gin.Engine
	log      zerolog.Logger
	now      func() time.Time
}

// New constructs a server with routes and middleware.
func New(cfg config.Config, store Store, monitor *health.Monitor, registry scheduler.Registry, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(loggingMiddleware(logger))
	engine.Use(corsMiddleware())

	server := &Server{
		cfg:      cfg,
		store:    store,
		monitor:  monitor,
		registry: registry,
		engine:   engine,
		log:      logger,
		now:      time.Now,
	}
	server.registerRoutes()
	return server
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run starts the HTTP server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.ListenAddr(),
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")

	station := v1.Group("/station")
	{
		station.POST("/data", s.handleIngest)
		station.POST("/status", s.handleStatus)
		station.POST("/calibration", s.handleIngestCalibration)
		station.GET("/calibration", s.handleQueryCalibration)
		station.GET("/current", s.handleCurrent)
		station.GET("/current/all", s.handleLegacyCurrentAll)
		station.GET("/historical", s.handleHistorical)
		station.GET("/history", s.handleLegacyHistory)
		station.GET("/all", s.handleAllStations)
		station.GET("/topn", s.handleTopN)
		station.GET("/info/:station_id", s.handleStationInfo)
	}

	v1.GET("/statistics", s.handleStatistics)

	healthGroup := v1.Group("/health")
	{
		healthGroup.GET("", s.handleHealthFull)
		healthGroup.GET("/simple", s.handleHealthSimple)
	}

	admin := v1.Group("/admin")
	{
		admin.GET("/jobs", s.handleListJobs)
		admin.POST("/jobs/:name/run", s.handleTriggerJob)
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func loggingMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(started)).
			Str("request_id", c.GetString("request_id")).
			Msg("request")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
