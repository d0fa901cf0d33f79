package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("shop", "demo.myshopify.com"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"invalid input", InvalidInput("customerId is required"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("session token is invalid"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("access restricted"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"conflict", Conflict("catalog: version mismatch"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"gone", Gone("catalog: product retired"), "GONE", http.StatusGone, ErrGone},
		{"unavailable", Unavailable("wishlist store unavailable", nil), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail},
		{"rate limited", TooManyRequests("slow down"), "RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited},
		{"internal", Internal(fmt.Errorf("panic: boom")), "INTERNAL_ERROR", http.StatusInternalServerError, ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

func TestAppError_Error(t *testing.T) {
	assert.Equal(t, "INVALID_INPUT: shop is required", InvalidInput("shop is required").Error())
	assert.Equal(t, "RATE_LIMITED: slow down", TooManyRequests("slow down").Error())
	assert.Equal(t, "INTERNAL_ERROR: an internal error occurred", Internal(nil).Error())
	assert.ErrorIs(t, InvalidInput("shop is required"), ErrInvalidInput)

	err := Unavailable("wishlist store unavailable", errors.New("add item: conn reset"))
	assert.Contains(t, err.Error(), "SERVICE_UNAVAILABLE: wishlist store unavailable")
	assert.Contains(t, err.Error(), "conn reset")
}

func TestUnavailable_KeepsCauseOutOfMessage(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.5:5432: connection refused")
	err := Unavailable("wishlist store unavailable", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrServiceUnavail)
	assert.NotContains(t, err.Message, "10.0.0.5")
	assert.True(t, IsRetryable(err))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("reconcile: %w", Unavailable("store", nil))))
	assert.False(t, IsRetryable(InvalidInput("productId is required")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestHTTPStatus_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("lookup: %w", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("decode: %w", ErrInvalidInput), http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrConflict, http.StatusConflict},
		{ErrGone, http.StatusGone},
		{ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("ping: %w", ErrServiceUnavail), http.StatusServiceUnavailable},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func TestHTTPStatus_AppErrorWinsOverWrappedSentinel(t *testing.T) {
	// A validation error wrapping a not-found cause still reports 400.
	err := &AppError{Code: "INVALID_INPUT", Message: "unknown product", Status: http.StatusBadRequest, Err: ErrNotFound}
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(fmt.Errorf("add: %w", err)))
}
