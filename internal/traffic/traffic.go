// Package traffic keeps sliding windows of request outcomes: one window per
// upstream provider (feeding per-provider health reporting) and one for
// rate-limit denials on the public path (feeding overload detection).
package traffic

import (
	"sync"
	"time"
)

var defaultTracker = NewTracker()

// RecordSuccess records a successful call to the named upstream.
func RecordSuccess(upstream string) { defaultTracker.RecordSuccess(upstream) }

// RecordError records a failed call to the named upstream.
func RecordError(upstream string) { defaultTracker.RecordError(upstream) }

// RecordDenied records a rate-limit denial on the public path.
func RecordDenied() { defaultTracker.RecordDenied() }

// ErrorRate returns (errors, total) for upstream within the window.
func ErrorRate(upstream string, window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(upstream, window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int { return defaultTracker.DenialCount(window) }

// Upstreams returns the upstream names with any recorded outcome.
func Upstreams() []string { return defaultTracker.Upstreams() }

// Reset clears all recorded outcomes. For tests only.
func Reset() { defaultTracker.Reset() }

// Tracker maintains the outcome windows. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	successes map[string][]time.Time
	errors    map[string][]time.Time
	denials   []time.Time
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		successes: make(map[string][]time.Time),
		errors:    make(map[string][]time.Time),
	}
}

// RecordSuccess records a successful upstream call at the current time.
func (t *Tracker) RecordSuccess(upstream string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes[upstream] = appendPruned(t.successes[upstream], time.Now())
}

// RecordError records a failed upstream call at the current time.
func (t *Tracker) RecordError(upstream string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[upstream] = appendPruned(t.errors[upstream], time.Now())
}

// RecordDenied records a rate-limit denial at the current time.
func (t *Tracker) RecordDenied() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.denials = appendPruned(t.denials, time.Now())
}

// ErrorRate returns (errors, total) for upstream within the window ending now.
func (t *Tracker) ErrorRate(upstream string, window time.Duration) (int, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := time.Now().Add(-window)
	errs := countSince(t.errors[upstream], cutoff)
	succ := countSince(t.successes[upstream], cutoff)
	return errs, errs + succ
}

// DenialCount returns the number of denials within the window ending now.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.denials, time.Now().Add(-window))
}

// Upstreams returns the names with any recorded outcome, in no fixed order.
func (t *Tracker) Upstreams() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]struct{})
	for name := range t.successes {
		seen[name] = struct{}{}
	}
	for name := range t.errors {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	return out
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.successes = make(map[string][]time.Time)
	t.errors = make(map[string][]time.Time)
	t.denials = nil
}

// maxWindow bounds how long outcomes are kept regardless of query windows.
const maxWindow = 15 * time.Minute

// appendPruned appends now and drops entries older than maxWindow.
func appendPruned(times []time.Time, now time.Time) []time.Time {
	times = append(times, now)
	cutoff := now.Add(-maxWindow)
	i := 0
	for i < len(times) && times[i].Before(cutoff) {
		i++
	}
	return times[i:]
}

// countSince counts entries at or after cutoff.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}
