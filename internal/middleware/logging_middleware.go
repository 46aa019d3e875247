package middleware

import (
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// RequestLogging logs one structured line per request. Health and metrics
// probes are skipped to keep the logs readable.
func RequestLogging(logger *logrus.Logger, excludePaths ...string) gin.HandlerFunc {
	excluded := make(map[string]bool, len(excludePaths))
	for _, path := range excludePaths {
		excluded[path] = true
	}

	return func(ctx *gin.Context) {
		if excluded[ctx.Request.URL.Path] {
			ctx.Next()
			return
		}

		start := time.Now()
		ctx.Next()
		duration := time.Since(start)

		entry := logger.WithFields(logrus.Fields{
			"request_id": requestid.Get(ctx),
			"method":     ctx.Request.Method,
			"path":       ctx.Request.URL.Path,
			"status":     ctx.Writer.Status(),
			"duration":   duration.Milliseconds(),
			"client_ip":  ctx.ClientIP(),
		})

		switch {
		case ctx.Writer.Status() >= 500:
			entry.Error("Request failed")
		case ctx.Writer.Status() >= 400:
			entry.Warn("Request rejected")
		default:
			entry.Info("Request handled")
		}
	}
}
