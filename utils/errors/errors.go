package errors

import (
	"fmt"
	"net/http"
)

// APIError represents a custom error type for API responses.
// Details carries the internal cause; it is logged but never sent to clients.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Details string `json:"-"`
}

// Error returns the error message
func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches APIErrors by code so errors.Is works against the sentinels
// even after Wrap attached details.
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDetails returns a copy of e carrying the given internal details.
func (e *APIError) WithDetails(details string) *APIError {
	c := *e
	c.Details = details
	return &c
}

func NewAPIError(code, message string, status int, details ...string) *APIError {
	err := &APIError{
		Code:    code,
		Message: message,
		Status:  status,
	}
	if len(details) > 0 {
		err.Details = details[0]
	}
	return err
}

var (
	ErrInvalidInput = NewAPIError("INVALID_INPUT", "Invalid request data", http.StatusBadRequest)
	ErrUnauthorized = NewAPIError("UNAUTHORIZED", "Authentication required", http.StatusUnauthorized)
	ErrAuthFailed   = NewAPIError("AUTH_FAILED", "Authentication failed", http.StatusUnauthorized)
	ErrNotFound     = NewAPIError("NOT_FOUND", "Resource not found", http.StatusNotFound)
	ErrConflict     = NewAPIError("CONFLICT", "Resource conflict", http.StatusConflict)
	ErrRateLimited  = NewAPIError("RATE_LIMITED", "Too many requests", http.StatusTooManyRequests)
	ErrInternal     = NewAPIError("INTERNAL_SERVER_ERROR", "Internal server error", http.StatusInternalServerError)
)

// Wrap converts err into an APIError. Existing APIErrors pass through unchanged.
func Wrap(err error, code, message string, status int) *APIError {
	if err == nil {
		return NewAPIError(code, message, status)
	}
	if apiErr, ok := err.(*APIError); ok {
		return apiErr
	}
	return NewAPIError(code, message, status, err.Error())
}

// Internal wraps an unexpected failure as a generic 500 with the cause kept in Details.
func Internal(err error) *APIError {
	return Wrap(err, ErrInternal.Code, ErrInternal.Message, ErrInternal.Status)
}
