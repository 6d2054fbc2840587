package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Register custom validators
	_ = validate.RegisterValidation("buffer_strategy", validateBufferStrategy)
	_ = validate.RegisterValidation("project_date", validateProjectDate)
}

// validateBufferStrategy accepts the four buffer-sizing strategy names.
func validateBufferStrategy(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "cut_and_paste", "sum_of_squares", "root_square_error", "adaptive":
		return true
	default:
		return false
	}
}

// validateProjectDate accepts RFC3339 timestamps or plain YYYY-MM-DD dates,
// the two shapes project documents use.
func validateProjectDate(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "" {
		return true // Allow empty for optional fields
	}
	if _, err := time.Parse(time.RFC3339, s); err == nil {
		return true
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// ValidateRequest validates a request struct
func ValidateRequest(obj interface{}) error {
	return validate.Struct(obj)
}

// ValidationErrorResponse converts validator errors to a readable format
func ValidationErrorResponse(err error) map[string]interface{} {
	errors := make(map[string]interface{})

	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		for _, fieldError := range validationErrors {
			field := fieldError.Field()
			tag := fieldError.Tag()

			var message string
			switch tag {
			case "required":
				message = fmt.Sprintf("%s is required", field)
			case "min":
				message = fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
			case "max":
				message = fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
			case "gt":
				message = fmt.Sprintf("%s must be greater than %s", field, fieldError.Param())
			case "gte":
				message = fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
			case "lte":
				message = fmt.Sprintf("%s must be at most %s", field, fieldError.Param())
			case "gtefield":
				message = fmt.Sprintf("%s must not be less than %s", field, fieldError.Param())
			case "buffer_strategy":
				message = fmt.Sprintf("%s must be one of: cut_and_paste, sum_of_squares, root_square_error, adaptive", field)
			case "project_date":
				message = fmt.Sprintf("%s must be an RFC3339 timestamp or a YYYY-MM-DD date", field)
			default:
				message = fmt.Sprintf("%s failed validation: %s", field, tag)
			}

			errors[field] = message
		}
	} else {
		errors["validation"] = err.Error()
	}

	return errors
}

// BindAndValidate binds and validates a request
func BindAndValidate(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		AbortWithError(c, http.StatusBadRequest, "INVALID_JSON", err.Error())
		return false
	}

	if err := ValidateRequest(obj); err != nil {
		details := ValidationErrorResponse(err)
		AbortWithErrorDetails(c, http.StatusBadRequest, "VALIDATION_ERROR", "Request validation failed", details)
		return false
	}

	return true
}
