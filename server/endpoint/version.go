package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/tickstream/version"
)

// Version returns a handler exposing build information.
func Version() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":    version.ServiceName,
			"version":    version.Version,
			"git_commit": version.GitCommit,
			"build_time": version.BuildTime,
		})
	}
}
