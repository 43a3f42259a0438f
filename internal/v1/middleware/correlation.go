// Package middleware contains Gin middleware for the admin HTTP surface.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Pimeng/tphira-mp-sub001/internal/v1/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// correlationContextKey is where the ID lives in the gin context.
const correlationContextKey = "correlation_id"

// CorrelationID adds a correlation ID to each request, echoing back the
// client's if it sent one.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Header(HeaderXCorrelationID, correlationID)
		c.Set(correlationContextKey, correlationID)
		c.Next()
	}
}

// RequestLogger logs one line per request with the correlation ID attached.
// Health and metrics probes are skipped to keep the log readable.
func RequestLogger() gin.HandlerFunc {
	skip := map[string]struct{}{
		"/health/live":  {},
		"/health/ready": {},
		"/metrics":      {},
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skip[c.FullPath()]; ok {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		}
		if cid := c.GetString(correlationContextKey); cid != "" {
			fields = append(fields, zap.String("correlation_id", cid))
		}
		ctx := c.Request.Context()
		if c.Writer.Status() >= 500 {
			logging.Error(ctx, "request failed", fields...)
		} else {
			logging.Info(ctx, "request handled", fields...)
		}
	}
}
