package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/domain"
	"github.com/Haaaz3/MeasureAccelerator-sub006/internal/middleware"
)

// classify maps an engine error onto an HTTP status and error code.
func classify(err error) (int, string) {
	code := domain.CodeFor(err)
	switch code {
	case domain.CodeNotFound:
		return http.StatusNotFound, code
	case domain.CodeValidation, domain.CodeInvalidInput:
		return http.StatusBadRequest, code
	case domain.CodeConflict:
		return http.StatusConflict, code
	default:
		return http.StatusInternalServerError, domain.CodeInternalServer
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"correlation_id": c.GetString(middleware.CorrelationIDKey),
			"error":          err,
		}).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, &domain.OperationError{
		Code:      code,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString(middleware.CorrelationIDKey),
	})
}

func (s *Server) badRequest(c *gin.Context, message string, err error) {
	opErr := &domain.OperationError{
		Code:      domain.CodeInvalidInput,
		Message:   message,
		Timestamp: time.Now().UTC(),
		RequestID: c.GetString(middleware.CorrelationIDKey),
	}
	if err != nil {
		opErr.Details = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, opErr)
}
