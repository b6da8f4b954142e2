// Package resilience centralizes the retry policy and error-kind taxonomy
// applied to every external collaborator call: transient errors are retried
// with backoff, quota errors are surfaced to the caller untouched, and
// anything else is treated as permanent.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks an error as safe to retry (429, 5xx, network timeout).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// QuotaError marks a quota or auth exhaustion condition from a billed
// service. It is never retried and never conflated with an empty result:
// callers distinguish "try again later with more credit" from "this query
// has nothing".
type QuotaError struct {
	Service string
	Err     error
}

func (e *QuotaError) Error() string {
	return e.Service + ": quota exceeded: " + e.Err.Error()
}

func (e *QuotaError) Unwrap() error { return e.Err }

// NewQuotaError wraps err as a quota exhaustion from the named service.
func NewQuotaError(service string, err error) *QuotaError {
	return &QuotaError{Service: service, Err: err}
}

// IsQuota reports whether any error in the chain is a QuotaError.
func IsQuota(err error) bool {
	var qe *QuotaError
	return errors.As(err, &qe)
}

// IsTransient reports whether the error (or anything in its chain) is a
// TransientError or matches common transient network failure patterns.
// Quota errors are never transient even when the service signalled them
// with a 429.
func IsTransient(err error) bool {
	if err == nil || IsQuota(err) {
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

	// Heuristics for errors wrapped by HTTP clients that lose their type.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether the status code indicates a
// server-side condition that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
