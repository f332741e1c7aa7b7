package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nightsky/skycover/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency. Watch for: p95/p99 increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Upstream call rate per provider (open-meteo, met-no, geocode, astro).
	// Watch for: error vs success ratio per provider.
	UpstreamCallsTotal *prometheus.CounterVec

	// Upstream latency per provider. Watch for: p95 > 2s (degradation).
	UpstreamDuration *prometheus.HistogramVec

	// Retry attempts per provider. High retries = unstable upstream.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Cache hits and misses per namespace (weather, geocode, astro).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Bulk invalidations via the version counter.
	CacheInvalidationsTotal prometheus.Counter

	// Merge outcomes: full, secondary_only, unavailable.
	MergeResultsTotal *prometheus.CounterVec

	// Forecast lookups. rate() for QPS.
	ForecastQueriesTotal prometheus.Counter

	// Geocoding lookups by outcome: hit, resolved, empty, failed.
	GeocodeQueriesTotal *prometheus.CounterVec

	// Per-identity rate limit denials (429).
	RateLimitDeniedTotal prometheus.Counter

	// Concurrent misses collapsed by the request coalescer.
	CoalescedRequestsTotal prometheus.Counter

	// Circuit breaker state per provider: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Cache warming runs and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	overloadGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Total upstream API calls by provider and status",
		},
		[]string{"provider", "status"},
	)
	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamDurationSeconds",
			Help:    "Upstream API latency in seconds by provider",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "status"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Total retry attempts by provider",
		},
		[]string{"provider"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Cache hits by namespace",
		},
		[]string{"namespace"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Cache misses by namespace (absent, expired, or version-invalidated)",
		},
		[]string{"namespace"},
	)
	CacheInvalidationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheInvalidationsTotal",
			Help: "Bulk cache invalidations (version bumps)",
		},
	)
	MergeResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mergeResultsTotal",
			Help: "Forecast merge outcomes: full, secondary_only, unavailable",
		},
		[]string{"outcome"},
	)
	ForecastQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "forecastQueriesTotal",
			Help: "Total forecast lookups",
		},
	)
	GeocodeQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geocodeQueriesTotal",
			Help: "Geocoding lookups by outcome: hit, resolved, empty, failed",
		},
		[]string{"outcome"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Requests denied by the per-identity rate limiter (429)",
		},
	)
	CoalescedRequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Concurrent cache misses collapsed into one upstream fetch",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per provider: 0 closed, 1 open, 2 half-open",
		},
		[]string{"provider"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming runs",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		UpstreamCallsTotal, UpstreamDuration, UpstreamRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheInvalidationsTotal,
		MergeResultsTotal, ForecastQueriesTotal, GeocodeQueriesTotal,
		RateLimitDeniedTotal, CoalescedRequestsTotal, CircuitBreakerState,
		CacheWarmingTotal, CacheWarmingDurationSeconds,
	)
}

// RegisterOverloadGauges registers denial-pressure gauges over the configured
// window. Call from main after config load.
func RegisterOverloadGauges(window time.Duration) {
	overloadGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses within the sliding window",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler serving application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
