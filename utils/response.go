package utils

import (
	"net/http"
	"time"

	"resqlink/models"

	"github.com/gin-gonic/gin"
)

// Success responses
func SuccessResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, models.APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

func CreatedResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, models.APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// Error responses
func ErrorResponse(c *gin.Context, statusCode int, message string, details interface{}) {
	c.JSON(statusCode, models.APIResponse{
		Success: false,
		Message: message,
		Error: &models.APIError{
			Code:    getErrorCode(statusCode),
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
	})
}

func ValidationErrorResponse(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, models.APIResponse{
		Success: false,
		Message: "Validation failed",
		Error: &models.APIError{
			Code:    ErrCodeValidation,
			Message: "Validation failed",
			Details: validationErrors,
		},
		Timestamp: time.Now(),
	})
}

// ServiceErrorResponse maps a ServiceError to its HTTP shape; anything else
// becomes a 500.
func ServiceErrorResponse(c *gin.Context, err error) {
	if serviceErr, ok := GetServiceError(err); ok {
		status := serviceErr.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		c.JSON(status, models.APIResponse{
			Success: false,
			Message: serviceErr.Message,
			Error: &models.APIError{
				Code:    serviceErr.Code,
				Message: serviceErr.Message,
				Details: serviceErr.Details,
			},
			Timestamp: time.Now(),
		})
		return
	}

	ErrorResponse(c, http.StatusInternalServerError, "Internal server error", nil)
}

func getErrorCode(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrCodeValidation
	case http.StatusUnauthorized:
		return ErrCodeNotAuthenticated
	case http.StatusForbidden:
		return ErrCodeForbidden
	case http.StatusNotFound:
		return ErrCodeNotFound
	case http.StatusConflict:
		return ErrCodeInvalidTransition
	case http.StatusLocked:
		return ErrCodeLockUnavailable
	case http.StatusServiceUnavailable:
		return ErrCodeTransientStore
	default:
		return ErrCodeInternal
	}
}
