// Package apperror defines the domain error taxonomy.
//
// Services return these typed errors; the HTTP layer translates them to
// status codes in handler/response.go. Nothing in this package knows about
// HTTP, SQL, or the sandbox — it is the shared vocabulary between layers.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrValidation  = errors.New("validation error")
	ErrConflict    = errors.New("conflict")
	ErrForbidden   = errors.New("forbidden")
	ErrRateLimited = errors.New("rate limited")
	ErrTimeout     = errors.New("execution timeout")
)

// AppError carries a sentinel (for errors.Is checks), a safe human-readable
// message, and optionally the field that caused a validation failure.
type AppError struct {
	Err     error  // sentinel, reachable via Unwrap
	Message string // safe to show to the caller
	Field   string // optional: field causing a validation error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden indicates the caller lacks permission. Maps to 403.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// RateLimited indicates the caller exhausted their execution quota.
// Maps to 429. Remaining quota travels in the run outcome, not here.
func RateLimited(message string) *AppError {
	return &AppError{
		Err:     ErrRateLimited,
		Message: message,
	}
}
