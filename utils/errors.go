package utils

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError represents a service-level error with context
type ServiceError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	Details    string `json:"details,omitempty"`
	Cause      error  `json:"-"` // Original error, not exposed in JSON
}

func (e ServiceError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e ServiceError) Unwrap() error {
	return e.Cause
}

// GetServiceError extracts a ServiceError from an error
func GetServiceError(err error) (ServiceError, bool) {
	var serviceErr ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr, true
	}
	return ServiceError{}, false
}

// Error code constants
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeLockUnavailable   = "LOCK_UNAVAILABLE"
	ErrCodeTransientStore    = "TRANSIENT_STORE_ERROR"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewInvalidTransitionError rejects an illegal state change before any
// write happens.
func NewInvalidTransitionError(from, to string) error {
	return ServiceError{
		Code:       ErrCodeInvalidTransition,
		Message:    fmt.Sprintf("Cannot transition emergency from %s to %s", from, to),
		StatusCode: http.StatusConflict,
	}
}

// NewNotAuthenticatedError signals a missing or unusable identity.
func NewNotAuthenticatedError(message string) error {
	return ServiceError{
		Code:       ErrCodeNotAuthenticated,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewNotFoundError signals a missing emergency, lock, group or user.
func NewNotFoundError(resource string) error {
	return ServiceError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// NewLockUnavailableError is raised only after the bounded retry/backoff
// sequence exhausts.
func NewLockUnavailableError(resourceID string) error {
	return ServiceError{
		Code:       ErrCodeLockUnavailable,
		Message:    fmt.Sprintf("Could not acquire lock on %s within retry budget", resourceID),
		StatusCode: http.StatusLocked,
	}
}

// NewTransientStoreError wraps a network/backend failure during a store
// read, write or transaction. On transition paths it surfaces to the
// caller for explicit retry; on best-effort paths it is logged only.
func NewTransientStoreError(operation string, cause error) error {
	return ServiceError{
		Code:       ErrCodeTransientStore,
		Message:    fmt.Sprintf("Store operation failed: %s", operation),
		Cause:      cause,
		StatusCode: http.StatusServiceUnavailable,
	}
}

func NewForbiddenError(message string) error {
	return ServiceError{
		Code:       ErrCodeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

func NewBadRequestError(message string) error {
	return ServiceError{
		Code:       ErrCodeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NewInternalError(message string) error {
	return ServiceError{
		Code:       ErrCodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

// IsInvalidTransition reports whether err is an InvalidTransition rejection.
func IsInvalidTransition(err error) bool {
	serviceErr, ok := GetServiceError(err)
	return ok && serviceErr.Code == ErrCodeInvalidTransition
}

// IsNotFound reports whether err is a NotFound rejection.
func IsNotFound(err error) bool {
	serviceErr, ok := GetServiceError(err)
	return ok && serviceErr.Code == ErrCodeNotFound
}

// IsLockUnavailable reports whether err means the retry budget exhausted.
func IsLockUnavailable(err error) bool {
	serviceErr, ok := GetServiceError(err)
	return ok && serviceErr.Code == ErrCodeLockUnavailable
}

// IsTransientStore reports whether err is retriable at the caller's choice.
func IsTransientStore(err error) bool {
	serviceErr, ok := GetServiceError(err)
	return ok && serviceErr.Code == ErrCodeTransientStore
}

// WrapError attaches a code and message to an underlying error.
func WrapError(err error, code, message string) error {
	return ServiceError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StatusCode: http.StatusInternalServerError,
	}
}
