package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/health"
)

func (s *Server) handleHealthSimple(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Simple())
}

// handleHealthFull runs the dependency probes. Anything short of fully
// healthy answers 503 so load balancers rotate the instance out.
func (s *Server) handleHealthFull(c *gin.Context) {
	report := s.monitor.Full(c.Request.Context())

	code := http.StatusOK
	if report.Status != health.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, report)
}

func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.registry.Jobs()})
}

func (s *Server) handleTriggerJob(c *gin.Context) {
	name := c.Param("name")
	if err := s.registry.TriggerNow(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered", "job": name})
}
