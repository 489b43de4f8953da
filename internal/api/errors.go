// Package api is the HTTP client for the SaveKnight backup service: device
// registration, account lookup, game profiles and save uploads. Idempotent
// requests are retried with exponential backoff; errors are classified into
// sentinels so callers can branch with errors.Is.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrUnauthorized) to check.
var (
	ErrBadRequest    = errors.New("api: bad request")
	ErrUnauthorized  = errors.New("api: unauthorized")
	ErrForbidden     = errors.New("api: forbidden")
	ErrNotFound      = errors.New("api: not found")
	ErrConflict      = errors.New("api: conflict")
	ErrUnprocessable = errors.New("api: unprocessable entity")
	ErrThrottled     = errors.New("api: throttled")
	ErrServerError   = errors.New("api: server error")

	// ErrChecksumMismatch means the service did not accept the upload as
	// an intact copy of the archive that was sent.
	ErrChecksumMismatch = errors.New("api: checksum mismatch")
)

// Error wraps a sentinel error with HTTP status code, request ID,
// and the API error message for debugging.
type Error struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRejection reports whether err is the service definitively refusing the
// credential, as opposed to a transient failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrUnprocessable
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		if code >= http.StatusBadRequest {
			return ErrBadRequest
		}

		return nil
	}
}

// isRetryable reports whether a status should be retried for a request that
// is safe to repeat.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// isRejectedBeforeProcessing reports whether the server refused a request
// without acting on it, which makes even a POST safe to resend.
func isRejectedBeforeProcessing(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
