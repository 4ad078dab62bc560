package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/tickstream/logger"
)

// GinRequestLogger returns a Gin middleware that logs every request
// with method, path, status code, and duration. Probe paths are
// silently skipped. Stream requests log once at disconnect, so their
// duration is the connection lifetime.
func GinRequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isProbeEndpoint(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		fields := map[string]interface{}{
			"method":      c.Request.Method,
			"path":        path,
			"status":      status,
			"duration_ms": latency.Milliseconds(),
			"client":      c.ClientIP(),
		}
		if id, ok := c.Get("request_id"); ok {
			fields["request_id"] = id
		}

		switch {
		case status >= 500:
			logger.Error("Request completed", fields)
		case status >= 400:
			logger.Warn("Request completed", fields)
		default:
			logger.Debug("Request completed", fields)
		}
	}
}

func isProbeEndpoint(path string) bool {
	switch path {
	case "/health", "/alive", "/ready", "/version":
		return true
	}
	return false
}
