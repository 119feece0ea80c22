package apierrors

import (
	"github.com/gin-gonic/gin"
)

// APIError represents the JSON error response structure
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error sends an error response using a registered error code.
// The registry supplies the HTTP status and default message.
func Error(c *gin.Context, code string) {
	c.JSON(Registry.HTTPStatus(code), gin.H{"error": New(code)})
}

// ErrorWithMessage sends an error response with a custom message
// Useful when the message needs dynamic content (e.g., validation details)
func ErrorWithMessage(c *gin.Context, code, message string) {
	c.JSON(Registry.HTTPStatus(code), gin.H{"error": APIError{Code: code, Message: message}})
}

// Abort sends the error response and stops the handler chain.
func Abort(c *gin.Context, code string) {
	c.AbortWithStatusJSON(Registry.HTTPStatus(code), gin.H{"error": New(code)})
}

// New creates an APIError without sending a response
func New(code string) APIError {
	return APIError{
		Code:    code,
		Message: Registry.Message(code),
	}
}
