package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithGatewayTimeout sends a 504 Gateway Timeout response and aborts
// the request. Used when no pooled session frees up within the wait window.
func AbortWithGatewayTimeout(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusGatewayTimeout, NewAPIError(message, "timeout_error", "session_wait_timeout"))
}
