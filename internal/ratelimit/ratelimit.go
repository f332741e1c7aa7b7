// Package ratelimit implements the per-identity sliding-window limiter that
// protects the public lookup path. Identities map to trailing sequences of
// request timestamps; a request is denied when the pruned sequence has
// already reached the ceiling.
package ratelimit

import (
	"sync"
	"time"

	"github.com/nightsky/skycover/internal/faults"
)

// Limiter is a sliding-window request counter keyed by client identity.
// Window and ceiling come from configuration, not constants.
type Limiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
	window  time.Duration
	ceiling int
	now     func() time.Time
}

// New creates a Limiter allowing up to ceiling requests per identity within
// the trailing window.
func New(window time.Duration, ceiling int) *Limiter {
	return &Limiter{
		history: make(map[string][]time.Time),
		window:  window,
		ceiling: ceiling,
		now:     time.Now,
	}
}

// Allow records a request for identity if the ceiling permits it and returns
// nil; otherwise it returns a *faults.RateLimitError carrying the time until
// the oldest counted request leaves the window. Denied attempts are not
// recorded. The prune-then-check sequence holds the per-limiter lock, so two
// concurrent requests from one identity cannot both take the last slot.
func (l *Limiter) Allow(identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	kept := pruneBefore(l.history[identity], cutoff)
	if len(kept) == 0 {
		// Entire window elapsed since the earliest request; drop the history
		// rather than keeping an empty slice alive per identity.
		delete(l.history, identity)
	}
	if len(kept) >= l.ceiling {
		l.history[identity] = kept
		retryAfter := l.window - now.Sub(kept[0])
		if retryAfter < 0 {
			retryAfter = 0
		}
		return &faults.RateLimitError{RetryAfter: retryAfter}
	}
	l.history[identity] = append(kept, now)
	return nil
}

// pruneBefore drops timestamps older than cutoff, preserving order.
func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append([]time.Time(nil), times[i:]...)
}

// SetClock overrides the time source. For tests only.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
