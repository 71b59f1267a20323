package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/db"
	"github.com/aozora-dev/kaze-air-quality-api/services/api/dimension"
)

// clockSkewGrace is how far in the future a reported measurement time may lie
// before the batch is rejected. Field stations run NTP but drift happens.
const clockSkewGrace = 5 * time.Minute

const ingestTimeout = 10 * time.Second

type locationPayload struct {
	Lat    float64  `json:"lat"`
	Lon    float64  `json:"lon"`
	Height *float64 `json:"height"`
}

type stationPayload struct {
	Device   string           `json:"device" binding:"required"`
	Firmware *string          `json:"firmware"`
	APIKey   string           `json:"apikey"`
	Time     time.Time        `json:"time" binding:"required"`
	Location *locationPayload `json:"location"`
}

type sensorPayload struct {
	Type int             `json:"type" binding:"required"`
	Data map[int]float64 `json:"data" binding:"required"`
}

// ingestRequest mirrors the wire shape the station firmware sends. The
// location block is accepted but ignored; station placement is managed
// out of band.
type ingestRequest struct {
	Station stationPayload           `json:"station" binding:"required"`
	Sensors map[string]sensorPayload `json:"sensors" binding:"required"`
}

type statusRequest struct {
	Station stationPayload `json:"station" binding:"required"`
	Status  struct {
		Level   int    `json:"level" binding:"required"`
		Message string `json:"message"`
	} `json:"status" binding:"required"`
}

func (s *Server) handleIngest(c *gin.Context) {
	s.ingest(c, false)
}

func (s *Server) handleIngestCalibration(c *gin.Context) {
	s.ingest(c, true)
}

func (s *Server) ingest(c *gin.Context, calibration bool) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, validationf("invalid request body: %s", err.Error()))
		return
	}

	batch, err := s.batchFromRequest(req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ingestTimeout)
	defer cancel()

	var res *db.IngestResult
	if calibration {
		res, err = s.store.AcceptCalibration(ctx, batch)
	} else {
		res, err = s.store.AcceptReadings(ctx, batch)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"measurement_ids": res.MeasurementIDs,
		"created":         res.Created,
		"duplicates":      res.Duplicates,
	})
}

func (s *Server) batchFromRequest(req ingestRequest) (db.ReadingBatch, error) {
	batch := db.ReadingBatch{
		Device:   req.Station.Device,
		APIKey:   req.Station.APIKey,
		Firmware: req.Station.Firmware,
	}

	measured := req.Station.Time.UTC()
	if measured.After(s.now().UTC().Add(clockSkewGrace)) {
		return batch, validationf("time %s lies in the future", measured.Format(time.RFC3339))
	}

	for name, sensor := range req.Sensors {
		if sensor.Type <= 0 {
			return batch, validationf("sensor %q has invalid type %d", name, sensor.Type)
		}
		if len(sensor.Data) == 0 {
			return batch, validationf("sensor %q carries no values", name)
		}
		for dim := range sensor.Data {
			if !dimension.Known(dim) {
				return batch, validationf("sensor %q reports unknown dimension %d", name, dim)
			}
		}
		batch.Readings = append(batch.Readings, db.Reading{
			TimeMeasured: measured,
			SensorModel:  sensor.Type,
			Values:       sensor.Data,
		})
	}
	if len(batch.Readings) == 0 {
		return batch, validationf("request carries no sensor readings")
	}
	return batch, nil
}

func (s *Server) handleStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, validationf("invalid request body: %s", err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), ingestTimeout)
	defer cancel()

	err := s.store.AppendStatus(ctx, req.Station.Device, req.Status.Level, req.Status.Message, req.Station.Time.UTC())
	if err != nil {
		s.respondError(c, err)
		return
	}

	// Levels are accepted as reported; critical ones are surfaced to operators.
	if req.Status.Level >= dimension.LevelCritical {
		s.log.Warn().
			Str("device", req.Station.Device).
			Str("message", req.Status.Message).
			Msg("critical station status reported")
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
