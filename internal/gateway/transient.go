package gateway

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an inference failure that may clear on its own (429,
// 5xx, network timeouts). Nothing retries it automatically; it decides
// whether the failure counts toward the circuit breaker and is reported so an
// operator knows a re-extraction is worth trying.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// CanceledError marks a failure that happened because the caller's own context
// ended. It never counts against the inference service.
type CanceledError struct {
	Err error
}

func (e *CanceledError) Error() string {
	return e.Err.Error()
}

func (e *CanceledError) Unwrap() error {
	return e.Err
}

// markTransient wraps err as transient when status is a transient HTTP status.
func markTransient(err error, status int) error {
	if err == nil || !IsTransientHTTPStatus(status) {
		return err
	}
	return &TransientError{Err: err, StatusCode: status}
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or if it matches common transient network failures. A
// CanceledError is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *CanceledError
	if errors.As(err, &ce) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
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

	// SDK clients flatten some network errors into strings.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"context deadline exceeded",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether statusCode indicates a server-side
// condition that is likely to clear on its own.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// Classify returns "canceled", "transient" or "permanent" for err.
func Classify(err error) string {
	var ce *CanceledError
	switch {
	case errors.As(err, &ce):
		return "canceled"
	case IsTransient(err):
		return "transient"
	}
	return "permanent"
}
