// Package client holds the outbound HTTP adapters for the weather, geocoding,
// and astronomy providers. Provider-native payloads are translated to the
// canonical model shapes here; nothing downstream sees provider field names.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/nightsky/skycover/internal/circuitbreaker"
	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/observability"
	"github.com/nightsky/skycover/internal/traffic"
)

// RetryConfig bounds the retry loop for one provider. Attempts counts the
// total tries, not the retries, so 1 disables retrying.
type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// requester is the shared transport core: per-provider timeout, bounded retry
// with exponential backoff and jitter, correlation ID propagation, outcome
// recording, and an optional circuit breaker.
type requester struct {
	provider   string
	httpClient *http.Client
	timeout    time.Duration
	retry      RetryConfig
	breaker    *circuitbreaker.Breaker
	headers    map[string]string
}

func newRequester(provider string, timeout time.Duration, retry RetryConfig) *requester {
	if retry.Attempts <= 0 {
		retry.Attempts = 1
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = 100 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 2 * time.Second
	}
	return &requester{
		provider:   provider,
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		retry:      retry,
	}
}

// SetBreaker attaches a circuit breaker. Call before first use.
func (r *requester) SetBreaker(b *circuitbreaker.Breaker) { r.breaker = b }

// getJSON issues a GET to u and decodes the body into target, retrying
// transient failures up to the configured attempt count. Every terminal
// failure is a wrapped faults.ErrTransport.
func (r *requester) getJSON(ctx context.Context, u string, target interface{}) error {
	var lastErr error
	for attempt := 0; attempt < r.retry.Attempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.WithLabelValues(r.provider).Inc()
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", faults.ErrTransport, ctx.Err())
			case <-time.After(r.backoff(attempt)):
			}
		}

		err := r.callOnce(ctx, u, target)
		if err == nil {
			traffic.RecordSuccess(r.provider)
			return nil
		}
		lastErr = err
		if !retryable(err) {
			break
		}
	}
	traffic.RecordError(r.provider)
	return lastErr
}

func (r *requester) callOnce(ctx context.Context, u string, target interface{}) error {
	do := func() error { return r.doRequest(ctx, u, target) }
	if r.breaker != nil {
		err := r.breaker.Do(do)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			return fmt.Errorf("%w: %s circuit open", faults.ErrTransport, r.provider)
		}
		return err
	}
	return do()
}

func (r *requester) doRequest(ctx context.Context, u string, target interface{}) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", faults.ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if corrID := CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.observe("error", start)
		return fmt.Errorf("%w: %s request failed: %v", faults.ErrTransport, r.provider, err)
	}
	defer resp.Body.Close()

	r.observe(statusLabel(resp.StatusCode), start)

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %s throttled the request", faults.ErrTransport, r.provider)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned status %d", faults.ErrTransport, r.provider, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", faults.ErrTransport, r.provider, err)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("%w: parse %s response: %v", faults.ErrTransport, r.provider, err)
	}
	return nil
}

func (r *requester) observe(status string, start time.Time) {
	observability.UpstreamCallsTotal.WithLabelValues(r.provider, status).Inc()
	observability.UpstreamDuration.WithLabelValues(r.provider, status).Observe(time.Since(start).Seconds())
}

// backoff returns the delay before the given attempt: exponential from the
// base, capped at the max, with up to 10% jitter.
func (r *requester) backoff(attempt int) time.Duration {
	delay := float64(r.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(r.retry.MaxDelay) {
		delay = float64(r.retry.MaxDelay)
	}
	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func statusLabel(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

// CorrelationIDFromContext returns the request correlation ID, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	if v := ctx.Value("correlation_id"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
