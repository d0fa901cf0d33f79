package httpclient

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	apperrors "github.com/utafrali/wishlist-sync/pkg/errors"
)

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 1 << 20

// errorEnvelope is the {"error":{...}} body written by httputil.WriteError.
type errorEnvelope struct {
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusErrors maps downstream 4xx statuses onto local errors. The message
// is prefixed with the downstream name so a caller can tell who refused.
var statusErrors = map[int]func(msg string) *apperrors.AppError{
	http.StatusBadRequest:   apperrors.InvalidInput,
	http.StatusUnauthorized: apperrors.Unauthorized,
	http.StatusForbidden:    apperrors.Forbidden,
	http.StatusConflict:     apperrors.Conflict,
	http.StatusGone:         apperrors.Gone,
}

// ParseResponseError consumes and closes a non-2xx response and returns the
// matching AppError. 429 and 5xx become retryable Unavailable errors.
func ParseResponseError(resp *http.Response, serviceName string) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("%s returned status %d (failed to read body: %w)", serviceName, resp.StatusCode, err)
	}

	code, message := "", string(body)
	var env errorEnvelope
	if json.Unmarshal(body, &env) == nil && env.Error != nil {
		code, message = env.Error.Code, env.Error.Message
	}

	status := resp.StatusCode
	switch {
	case status == http.StatusNotFound:
		return apperrors.NotFound(serviceName, message)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return apperrors.Unavailable(serviceName+" unavailable",
			fmt.Errorf("status %d %s: %s", status, code, message))
	}

	qualified := serviceName + ": " + message
	if build, ok := statusErrors[status]; ok {
		return build(qualified)
	}
	if code == "" {
		code = http.StatusText(status)
	}
	return &apperrors.AppError{Code: code, Message: qualified, Status: status}
}
