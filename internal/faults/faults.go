// Package faults defines the typed failures the service returns to callers.
// Components wrap these sentinels with fmt.Errorf("...: %w", ...) so callers
// can branch with errors.Is without parsing messages.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidInput is returned for a bad coordinate, query, or horizon,
// always before any network call.
var ErrInvalidInput = errors.New("invalid input")

// ErrTransport is returned when an upstream is unreachable, times out, or
// answers with a non-success status.
var ErrTransport = errors.New("upstream transport failure")

// ErrForecastUnavailable is returned when both weather providers failed.
var ErrForecastUnavailable = errors.New("forecast unavailable")

// ErrGeocodingUnavailable is returned when the geocoding provider failed,
// as distinct from a legitimate empty result.
var ErrGeocodingUnavailable = errors.New("geocoding unavailable")

// ErrRateLimited is the sentinel under every RateLimitError.
var ErrRateLimited = errors.New("rate limited")

// ErrDisabled signals an optional provider without a configured credential.
// Capability-absent, not a failure.
var ErrDisabled = errors.New("provider disabled")

// RateLimitError carries how long the caller must wait before retrying.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// Unwrap lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryAfterSeconds returns the wait rounded up to whole seconds, minimum 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
