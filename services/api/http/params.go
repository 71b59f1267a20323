package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/format"
)

// timestamps are accepted with or without seconds/zone, matching what field
// deployments actually send
var timeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseTime(value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, validationf("invalid timestamp %q, expected RFC3339 or YYYY-MM-DDThh:mm", value)
}

func parseStationIDs(c *gin.Context) []string {
	raw := c.Query("station_ids")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func parseFormat(c *gin.Context, def format.Format) (format.Format, error) {
	f, err := format.Parse(c.Query("output_format"), def)
	if err != nil {
		return def, validationf("%s", err.Error())
	}
	return f, nil
}

// currentParams is the validated parameter set of the current-readings query.
type currentParams struct {
	Devices            []string
	Staleness          time.Duration
	Format             format.Format
	IncludeCalibration bool
}

func (s *Server) parseCurrentParams(c *gin.Context) (currentParams, error) {
	p := currentParams{
		Devices:   parseStationIDs(c),
		Staleness: s.cfg.StaleAfter,
	}

	var err error
	if p.Format, err = parseFormat(c, format.GeoJSON); err != nil {
		return p, err
	}

	if raw := c.Query("last_active"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return p, validationf("invalid last_active %q, expected seconds", raw)
		}
		p.Staleness = time.Duration(secs) * time.Second
	}

	if raw := c.Query("include_calibration"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, validationf("invalid include_calibration %q", raw)
		}
		p.IncludeCalibration = v
	}

	return p, nil
}

// historicalParams is the validated parameter set of the historical query.
// All range and format checks happen here, the handler stays mechanical.
type historicalParams struct {
	Devices []string
	From    time.Time
	To      time.Time
	Format  format.Format
}

func (s *Server) parseHistoricalParams(c *gin.Context) (historicalParams, error) {
	p := historicalParams{Devices: parseStationIDs(c)}
	if len(p.Devices) == 0 {
		return p, validationf("station_ids is required")
	}

	var err error
	if p.Format, err = parseFormat(c, format.CSV); err != nil {
		return p, err
	}

	from := c.Query("from")
	if from == "" {
		return p, validationf("from is required")
	}
	if p.From, err = parseTime(from); err != nil {
		return p, err
	}

	// "current" means the open end of the range
	to := c.Query("to")
	if to == "" || to == "current" {
		p.To = s.now().UTC()
	} else if p.To, err = parseTime(to); err != nil {
		return p, err
	}

	if p.To.Before(p.From) {
		return p, validationf("to must not precede from")
	}
	return p, nil
}

type topNParams struct {
	Dimension int
	N         int
	Rollup    bool
	Format    format.Format
}

func (s *Server) parseTopNParams(c *gin.Context) (topNParams, error) {
	var p topNParams

	dim := c.Query("dimension")
	if dim == "" {
		return p, validationf("dimension is required")
	}
	d, err := strconv.Atoi(dim)
	if err != nil || d <= 0 {
		return p, validationf("invalid dimension %q", dim)
	}
	p.Dimension = d

	n := c.DefaultQuery("n", "10")
	if p.N, err = strconv.Atoi(n); err != nil || p.N <= 0 {
		return p, validationf("invalid n %q", n)
	}

	switch basis := c.DefaultQuery("basis", "latest"); basis {
	case "latest":
	case "rollup":
		p.Rollup = true
	default:
		return p, validationf("invalid basis %q, expected latest or rollup", basis)
	}

	if p.Format, err = parseFormat(c, format.JSON); err != nil {
		return p, err
	}
	return p, nil
}

type calibrationParams struct {
	Devices       []string
	From          *time.Time
	To            *time.Time
	IncludeValues bool
}

func parseCalibrationParams(c *gin.Context) (calibrationParams, error) {
	p := calibrationParams{
		Devices:       parseStationIDs(c),
		IncludeValues: true,
	}

	if raw := c.Query("from"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return p, err
		}
		p.From = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return p, err
		}
		p.To = &t
	}
	if raw := c.Query("data"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return p, validationf("invalid data %q", raw)
		}
		p.IncludeValues = v
	}
	return p, nil
}
