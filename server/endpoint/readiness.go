package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/tickstream/component"
)

// Readiness returns a handler for the readiness probe. The instance is
// ready when no component reports unhealthy.
func Readiness(checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range checker.HealthAll(c.Request.Context()) {
			if h.Status == component.StatusUnhealthy {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":    "not ready",
					"component": h.Name,
					"message":   h.Message,
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
