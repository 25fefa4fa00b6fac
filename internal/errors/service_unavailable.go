package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithServiceUnavailable sends a 503 Service Unavailable response and
// aborts the request. Used when the browser peer is away or the bridge is
// at its concurrency cap.
func AbortWithServiceUnavailable(c *gin.Context, message, code string) {
	c.AbortWithStatusJSON(http.StatusServiceUnavailable, NewAPIError(message, "service_unavailable", code))
}
