package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AbortWithNotFound sends a 404 Not Found response and aborts the request.
func AbortWithNotFound(c *gin.Context, message, code string) {
	c.AbortWithStatusJSON(http.StatusNotFound, NewAPIError(message, "invalid_request_error", code))
}

// AbortWithModelNotFound sends the 404 used when the requested model is
// not in the registry.
func AbortWithModelNotFound(c *gin.Context, model string) {
	AbortWithNotFound(c, "Model '"+model+"' not found.", "model_not_found")
}
