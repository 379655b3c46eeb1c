// Package middleware provides gin middleware for request logging, request
// metrics and panic recovery for the ingestion API.
package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
)

// unmatchedRoute labels requests that hit no registered route, keeping label cardinality bounded.
const unmatchedRoute = "unmatched"

// Logging logs method, path, status and duration of every request.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP request",
			logfields.Method(c.Request.Method),
			logfields.Path(c.Request.URL.Path),
			logfields.HTTPStatus(c.Writer.Status()),
			logfields.DurationMS(time.Since(start)),
			slog.String("remote_addr", c.ClientIP()))
	}
}

// Metrics counts requests and observes latency per route template.
func Metrics(recorder metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = unmatchedRoute
		}
		recorder.IncAPIRequest(c.Request.Method, endpoint, c.Writer.Status())
		recorder.ObserveAPILatency(endpoint, time.Since(start))
	}
}

// Recovery turns handler panics into a classified internal error response.
func Recovery(logger *slog.Logger, adapter *errors.HTTPErrorAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("HTTP handler panic",
					slog.Any("panic", rec),
					logfields.Path(c.Request.URL.Path),
					logfields.Method(c.Request.Method))

				panicErr := errors.InternalError("internal server error").
					WithContext("path", c.Request.URL.Path).
					WithContext("method", c.Request.Method).
					Build()
				adapter.WriteErrorResponse(c.Writer, c.Request, panicErr)
				c.Abort()
			}
		}()
		c.Next()
	}
}
