// Package auth enforces the optional shared bearer token on the
// completion surface. When no key is configured the middleware is a
// pass-through, so local setups work without credentials.
package auth

import (
	"strings"

	"github.com/arenalabs/arena-bridge/internal/errors"
	"github.com/gin-gonic/gin"
)

// KeyFunc returns the currently configured API key. The key lives in the
// hot-reloadable settings file, so it is resolved per request rather than
// captured at startup.
type KeyFunc func() string

// RequireAPIKey validates the Authorization header against the configured
// shared key. An empty configured key disables the check.
func RequireAPIKey(key KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		expected := key()
		if expected == "" {
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			errors.AbortWithUnauthorized(c, "Missing API key. Provide it as 'Authorization: Bearer <key>'.")
			return
		}

		provided := strings.TrimPrefix(authHeader, "Bearer ")
		if provided != expected {
			errors.AbortWithUnauthorized(c, "Invalid API key.")
			return
		}

		c.Next()
	}
}
