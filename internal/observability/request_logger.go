package observability

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestLogger logs every request and feeds the metrics counters.
func RequestLogger(logger *zap.Logger, metrics *Metrics) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		} else {
			requestID = strings.Clone(requestID)
		}
		c.Set(RequestIDHeader, requestID)

		// fiber reuses the underlying buffers once the handler returns
		method := c.Method()
		path := strings.Clone(c.Path())

		err := c.Next()

		// only after Next does Route point at the handler that matched
		route := path
		if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
			route = r.Path
		}

		status := c.Response().StatusCode()
		duration := time.Since(start)
		metrics.RecordRequest(route, method, status, duration)

		logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", duration),
		)
		return err
	}
}
