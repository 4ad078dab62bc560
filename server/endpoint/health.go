package endpoint

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/tickstream/component"
)

// HealthChecker reports the health of every registered component;
// satisfied by *component.Registry.
type HealthChecker interface {
	HealthAll(ctx context.Context) []component.Health
}

// HealthResponse is the aggregated health report.
type HealthResponse struct {
	Service    string                 `json:"service"`
	Status     component.HealthStatus `json:"status"`
	Components []component.Health     `json:"components,omitempty"`
}

// Health returns a handler aggregating component health. Any unhealthy
// component makes the overall report unhealthy with a 503; degraded
// components degrade the report but keep it 200.
func Health(serviceName string, checker HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		components := checker.HealthAll(c.Request.Context())

		overall := component.StatusHealthy
		for _, h := range components {
			switch h.Status {
			case component.StatusUnhealthy:
				overall = component.StatusUnhealthy
			case component.StatusDegraded:
				if overall == component.StatusHealthy {
					overall = component.StatusDegraded
				}
			}
		}

		status := http.StatusOK
		if overall == component.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, HealthResponse{
			Service:    serviceName,
			Status:     overall,
			Components: components,
		})
	}
}
