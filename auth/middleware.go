package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/tickstream/errors"
)

// Middleware returns a Gin middleware that validates Bearer tokens when
// present and stores the claims in the request context. A missing header
// passes through unauthenticated — the admission gate decides whether the
// requested scope requires identity. A present but invalid token is
// rejected immediately.
func Middleware(verifier *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			appErr := errors.Unauthorized("Invalid authorization header format.")
			c.AbortWithStatusJSON(http.StatusUnauthorized, appErr.ToResponse())
			return
		}

		claims, err := verifier.Verify(parts[1])
		if err != nil {
			appErr := errors.Unauthorized("Invalid token.")
			c.AbortWithStatusJSON(http.StatusUnauthorized, appErr.ToResponse())
			return
		}

		ctx := WithClaims(c.Request.Context(), claims)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
