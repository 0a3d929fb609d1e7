package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// RequestLogger writes one line per request at a level chosen by status. Uploads also log
// their declared size so oversized media is visible before the handler rejects it.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []interface{}{
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if c.Request.ContentLength > 0 {
			fields = append(fields, "request_bytes", c.Request.ContentLength)
		}
		fields = append(fields, ctxutil.GetTraceData(c.Request.Context()).Fields()...)
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.Last().Error())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Debug("HTTP request", fields...)
		}
	}
}
