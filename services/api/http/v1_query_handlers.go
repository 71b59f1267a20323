package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/db"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/format"
)

const queryTimeout = 10 * time.Second

func (s *Server) handleCurrent(c *gin.Context) {
	p, err := s.parseCurrentParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rows, err := s.store.CurrentReadings(ctx, db.CurrentQuery{
		Devices:            p.Devices,
		ActiveSince:        s.now().UTC().Add(-p.Staleness),
		IncludeCalibration: p.IncludeCalibration,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stations match the query"})
		return
	}

	body, err := format.EncodeReadings(rows, p.Format)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, p.Format.ContentType(), body)
}

// handleLegacyCurrentAll keeps the old dump endpoint alive for existing
// consumers. It is the current query over every station, always CSV.
func (s *Server) handleLegacyCurrentAll(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rows, err := s.store.CurrentReadings(ctx, db.CurrentQuery{
		ActiveSince: s.now().UTC().Add(-s.cfg.StaleAfter),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	if len(rows) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active stations match the query"})
		return
	}

	body, err := format.EncodeReadings(rows, format.CSV)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, format.CSV.ContentType(), body)
}

func (s *Server) handleHistorical(c *gin.Context) {
	p, err := s.parseHistoricalParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rows, err := s.store.HistoricalAverages(ctx, db.HistoricalQuery{
		Devices: p.Devices,
		From:    p.From,
		To:      p.To,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	body, err := format.EncodeHourly(rows, p.Format)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, p.Format.ContentType(), body)
}

// handleLegacyHistory serves the pre-v1 history contract: same hourly rows as
// the historical endpoint but flattened to the old CSV column layout with
// minute-precision timestamps. The smooth parameter is accepted and ignored.
func (s *Server) handleLegacyHistory(c *gin.Context) {
	devices := parseStationIDs(c)
	if len(devices) == 0 {
		s.respondError(c, validationf("station_ids is required"))
		return
	}
	start := c.Query("start")
	if start == "" {
		s.respondError(c, validationf("start is required"))
		return
	}
	from, err := parseTime(start)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rows, err := s.store.HistoricalAverages(ctx, db.HistoricalQuery{
		Devices: devices,
		From:    from,
		To:      s.now().UTC(),
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	body, err := format.LegacyHistoryCSV(rows)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, format.CSV.ContentType(), body)
}

func (s *Server) handleAllStations(c *gin.Context) {
	f, err := parseFormat(c, format.CSV)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	rows, err := s.store.ListStations(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}

	body, err := format.EncodeStations(rows, f)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if f == format.CSV {
		c.Header("Content-Disposition", `attachment; filename="stations.csv"`)
	}
	c.Data(http.StatusOK, f.ContentType(), body)
}

func (s *Server) handleTopN(c *gin.Context) {
	p, err := s.parseTopNParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	var entries []db.RankEntry
	if p.Rollup {
		entries, err = s.store.RollupDimensionValues(ctx, p.Dimension)
	} else {
		entries, err = s.store.LatestDimensionValues(ctx, p.Dimension)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	rows := make([]format.RankRow, 0, p.N)
	for _, e := range db.RankTop(entries, p.N) {
		rows = append(rows, format.RankRow{Device: e.Device, Value: e.Value})
	}

	body, err := format.EncodeRank(rows, p.Format)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.Data(http.StatusOK, p.Format.ContentType(), body)
}

func (s *Server) handleStationInfo(c *gin.Context) {
	device := c.Param("station_id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	station, err := s.store.GetStation(ctx, device)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": station})
}

func (s *Server) handleQueryCalibration(c *gin.Context) {
	p, err := parseCalibrationParams(c)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	records, err := s.store.CalibrationRecords(ctx, db.CalibrationQuery{
		Devices:       p.Devices,
		From:          p.From,
		To:            p.To,
		IncludeValues: p.IncludeValues,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": records,
		"meta": gin.H{
			"count":           len(records),
			"includes_values": p.IncludeValues,
		},
	})
}

func (s *Server) handleStatistics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	stats, err := s.store.Statistics(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timestamp": s.now().UTC(),
		"data":      stats,
	})
}
