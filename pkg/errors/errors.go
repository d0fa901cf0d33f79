// Package errors defines the error taxonomy shared by the wishlist service.
// Every failure that reaches an HTTP handler is an *AppError or wraps one of
// the sentinels below, so HTTPStatus can map it without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels for errors.Is checks.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal error")
	ErrConflict       = errors.New("conflict")
	ErrGone           = errors.New("gone")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrRateLimited    = errors.New("rate limited")
)

// AppError is an error with a stable code and an HTTP status. Message is
// safe to show to callers; Err is for logs.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error omits Err when it is only the kind's sentinel, which Code already names.
func (e *AppError) Error() string {
	if e.Err == nil || isSentinel(e.Err) {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// kind ties a sentinel to its wire code and status.
type kind struct {
	sentinel error
	code     string
	status   int
}

var (
	kindNotFound     = kind{ErrNotFound, "NOT_FOUND", http.StatusNotFound}
	kindInvalidInput = kind{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest}
	kindUnauthorized = kind{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized}
	kindForbidden    = kind{ErrForbidden, "FORBIDDEN", http.StatusForbidden}
	kindConflict     = kind{ErrConflict, "CONFLICT", http.StatusConflict}
	kindGone         = kind{ErrGone, "GONE", http.StatusGone}
	kindUnavailable  = kind{ErrServiceUnavail, "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable}
	kindRateLimited  = kind{ErrRateLimited, "RATE_LIMITED", http.StatusTooManyRequests}
	kindInternal     = kind{ErrInternal, "INTERNAL_ERROR", http.StatusInternalServerError}
)

// kinds is the lookup order for HTTPStatus.
var kinds = []kind{
	kindNotFound, kindInvalidInput, kindUnauthorized, kindForbidden,
	kindConflict, kindGone, kindUnavailable, kindRateLimited,
}

func isSentinel(err error) bool {
	if err == kindInternal.sentinel {
		return true
	}
	for _, k := range kinds {
		if err == k.sentinel {
			return true
		}
	}
	return false
}

func (k kind) new(message string) *AppError {
	return &AppError{Code: k.code, Message: message, Status: k.status, Err: k.sentinel}
}

// NotFound creates a 404 error.
func NotFound(resource, id string) *AppError {
	return kindNotFound.new(fmt.Sprintf("%s with id %s not found", resource, id))
}

// Conflict creates a 409 error for a state conflict reported by a collaborator.
func Conflict(message string) *AppError {
	return kindConflict.new(message)
}

// Gone creates a 410 error.
func Gone(message string) *AppError {
	return kindGone.new(message)
}

// InvalidInput creates a 400 error.
func InvalidInput(message string) *AppError {
	return kindInvalidInput.new(message)
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	return kindUnauthorized.new(message)
}

// Forbidden creates a 403 error.
func Forbidden(message string) *AppError {
	return kindForbidden.new(message)
}

// TooManyRequests creates a 429 error.
func TooManyRequests(message string) *AppError {
	return kindRateLimited.new(message)
}

// Unavailable creates a 503 error for a transient dependency failure. The
// caller may retry the whole operation. cause stays reachable through
// errors.Is/As but never appears in Message.
func Unavailable(message string, cause error) *AppError {
	e := kindUnavailable.new(message)
	if cause != nil {
		e.Err = fmt.Errorf("%w: %w", ErrServiceUnavail, cause)
	}
	return e
}

// Internal creates a 500 error hiding err from the caller.
func Internal(err error) *AppError {
	e := kindInternal.new("an internal error occurred")
	if err != nil {
		e.Err = fmt.Errorf("%w: %w", ErrInternal, err)
	}
	return e
}

// IsRetryable reports whether err is a transient failure that is safe to retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavail)
}

// HTTPStatus returns the HTTP status code for the given error.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.status
		}
	}
	return http.StatusInternalServerError
}
