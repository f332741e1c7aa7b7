package client

import (
	"errors"
	"strings"

	"github.com/nightsky/skycover/internal/faults"
)

// retryable reports whether a failed attempt is worth retrying. Timeouts,
// connection failures, throttling, and 5xx answers are transient; everything
// else (4xx, parse failures, open breaker) will not improve on retry.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if !errors.Is(err, faults.ErrTransport) {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "circuit open") {
		return false
	}
	if strings.Contains(msg, "throttled") {
		return true
	}
	if strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "request failed") {
		return true
	}
	if strings.Contains(msg, "returned status 5") {
		return true
	}
	return false
}
