// Package resilience provides retry and circuit breaking for calls to the
// job-processing gateway.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// StatusError is a non-2xx response from an HTTP backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *StatusError) Transient() bool {
	return IsTransientHTTPStatus(e.StatusCode)
}

// IsTransient reports whether err is safe to retry: a transient HTTP
// status, a network timeout, or a refused/reset connection. Context
// cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// IsTransientHTTPStatus reports whether a status code indicates a temporary
// server-side condition.
func IsTransientHTTPStatus(code int) bool {
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
