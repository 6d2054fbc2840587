package middleware

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flowchain/ccpm/pkg/api/dto"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// ErrorHandler is a middleware that handles errors and panics
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
					Error:   "Internal Server Error",
					Message: "An unexpected error occurred",
					Code:    "INTERNAL_ERROR",
				})
				c.Abort()
			}
		}()

		c.Next()

		// Check if there were any errors
		if len(c.Errors) > 0 {
			err := c.Errors.Last()

			// Determine status code if not already set
			statusCode := c.Writer.Status()
			if statusCode == http.StatusOK {
				statusCode = http.StatusInternalServerError
			}

			c.JSON(statusCode, dto.ErrorResponse{
				Error:   http.StatusText(statusCode),
				Message: err.Error(),
			})
		}
	}
}

// AbortWithError is a helper function to abort with a specific error
func AbortWithError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	})
	c.Abort()
}

// AbortWithErrorDetails is a helper function to abort with error details
func AbortWithErrorDetails(c *gin.Context, statusCode int, code, message string, details map[string]interface{}) {
	c.JSON(statusCode, dto.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
		Details: details,
	})
	c.Abort()
}

// AbortWithEngineError maps the engine's error taxonomy onto HTTP statuses:
// validation and cycle errors are the caller's fault, infeasibility is a
// conflict with the declared resources, unknown ids are 404.
func AbortWithEngineError(c *gin.Context, err error) {
	var validationErr *ccpm.ValidationError
	var stateErr *ccpm.StateError
	var progressErr *ccpm.InvalidProgressError

	switch {
	case errors.As(err, &validationErr):
		AbortWithError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.As(err, &stateErr):
		AbortWithError(c, http.StatusConflict, "ILLEGAL_TRANSITION", err.Error())
	case errors.As(err, &progressErr):
		AbortWithError(c, http.StatusBadRequest, "INVALID_PROGRESS", err.Error())
	case errors.Is(err, ccpm.ErrCycleDetected):
		AbortWithError(c, http.StatusBadRequest, "CYCLE_DETECTED", err.Error())
	case errors.Is(err, ccpm.ErrResourceInfeasible):
		AbortWithError(c, http.StatusConflict, "RESOURCE_INFEASIBLE", err.Error())
	case errors.Is(err, ccpm.ErrNotFound):
		AbortWithError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		AbortWithError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
