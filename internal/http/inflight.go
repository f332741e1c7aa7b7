package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served. Shutdown flips the
// drain flag, stops accepting connections, then waits on this counter so
// responses already in progress are not cut off.
type InFlightTracker struct {
	count atomic.Int64
}

// Increment records a request entering the handler chain.
func (t *InFlightTracker) Increment() { t.count.Add(1) }

// Decrement records a request finishing.
func (t *InFlightTracker) Decrement() { t.count.Add(-1) }

// Count returns the number of requests currently in flight.
func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// WaitForZero polls at checkInterval until the count reaches zero, returning
// the context error if it expires first.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for t.Count() != 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Process-wide shutdown state. MetricsMiddleware maintains the counter; main
// sets the drain flag on SIGTERM and the health handler reads it.
var (
	globalInFlightTracker = &InFlightTracker{}
	draining              atomic.Bool
)

// InFlightCount returns the process-wide in-flight request count.
func InFlightCount() int64 { return globalInFlightTracker.Count() }

// WaitForInFlight blocks until no requests are in flight or ctx is done.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) error {
	return globalInFlightTracker.WaitForZero(ctx, checkInterval)
}

// SetDraining marks the process as shutting down. While set, the health
// endpoint reports shutting-down with a 503 so load balancers stop routing
// here.
func SetDraining(v bool) { draining.Store(v) }

// IsDraining reports whether shutdown has begun.
func IsDraining() bool { return draining.Load() }
