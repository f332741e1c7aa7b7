package service

import (
	"context"
	"sync"
	"time"

	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/observability"
)

// inFlight is one upstream fetch that any number of callers may wait on.
type inFlight struct {
	done   chan struct{}
	result models.ForecastSeries
	err    error
}

// coalescer collapses concurrent misses for the same cache key into a single
// upstream fetch. The baseline design lets every miss fetch independently;
// this is the optional strengthening, gated by configuration.
type coalescer struct {
	mu       sync.Mutex
	requests map[string]*inFlight
	timeout  time.Duration
}

func newCoalescer(timeout time.Duration) *coalescer {
	return &coalescer{
		requests: make(map[string]*inFlight),
		timeout:  timeout,
	}
}

// do returns the result of fn for key, either by running fn or by waiting on
// a fetch another caller already started. The fetch is bounded by the
// initiating caller's context; each waiter is additionally bounded by its
// own context and the coalescer timeout.
func (c *coalescer) do(ctx context.Context, key string, fn func() (models.ForecastSeries, error)) (models.ForecastSeries, error) {
	c.mu.Lock()
	req, exists := c.requests[key]
	if !exists {
		req = &inFlight{done: make(chan struct{})}
		c.requests[key] = req
		c.mu.Unlock()

		go func() {
			req.result, req.err = fn()
			close(req.done)
			c.mu.Lock()
			delete(c.requests, key)
			c.mu.Unlock()
		}()
	} else {
		c.mu.Unlock()
		observability.CoalescedRequestsTotal.Inc()
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	select {
	case <-req.done:
		return req.result, req.err
	case <-waitCtx.Done():
		return models.ForecastSeries{}, waitCtx.Err()
	}
}
