package endpoint

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Liveness returns a handler for the liveness probe. It answers 200 as
// long as the process can serve requests at all.
func Liveness() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	}
}
