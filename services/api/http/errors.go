package http

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aozora-dev/kaze-air-quality-api/services/api/db"
)

// ValidationError marks malformed request parameters; it maps to 400.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationf(format string, args ...any) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// respondError maps the error taxonomy to HTTP status codes. Infrastructure
// failures get an opaque body; the detail only goes to the log.
func (s *Server) respondError(c *gin.Context, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, db.ErrBadAPIKey):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	case errors.Is(err, db.ErrUnknownStation):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		s.log.Error().
			Str("request_id", c.GetString("request_id")).
			Str("path", c.Request.URL.Path).
			Err(err).
			Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
