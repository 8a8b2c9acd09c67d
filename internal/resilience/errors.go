// Package resilience retries page actions that failed for transient reasons
// (slow page, element not rendered yet, dropped connection).
package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps a page or transport failure that is safe to retry.
type TransientError struct {
	Err        error
	Action     string
	StatusCode int
}

func (e *TransientError) Error() string {
	if e.Action == "" {
		return e.Err.Error()
	}
	return e.Action + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError marks err, raised by the named page action, as
// retryable. StatusCode is optional and only set by HTTP drivers.
func NewTransientError(action string, err error, statusCode int) *TransientError {
	return &TransientError{Err: err, Action: action, StatusCode: statusCode}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, a per-action deadline, or matches common browser and
// network failure patterns. Cancellation of the whole run is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	// A step-level timeout: the element or page did not show up in time.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"i/o timeout",
		"could not find node",
		"node not visible",
		"node is not visible",
		"element not interactable",
		"stale element",
		"websocket: close",
		"target closed",
		"execution context was destroyed",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, // Request Timeout
		429, // Too Many Requests
		502, // Bad Gateway
		503, // Service Unavailable
		504: // Gateway Timeout
		return true
	default:
		return false
	}
}
