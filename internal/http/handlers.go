package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightsky/skycover/internal/client"
	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/service"
	"github.com/nightsky/skycover/internal/traffic"
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	UpstreamWindow   time.Duration
	DegradedErrorPct int
	OverloadWindow   time.Duration
	OverloadDenials  int
	StartTime        time.Time
	// CachePing, when set, is called to check cache reachability.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc          *service.AggregationService
	healthConfig *HealthConfig
	logger       *zap.Logger

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(svc *service.AggregationService, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		svc:          svc,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// GetForecast handles GET /v1/forecast. Accepts either lat/lon query
// parameters or q (a place name resolved through geocoding), plus an
// optional hours horizon.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hours := parseIntParam(q.Get("hours"))

	if name := strings.TrimSpace(q.Get("q")); name != "" {
		series, place, err := h.svc.GetForecastByQuery(r.Context(), name, hours)
		if err != nil {
			writeFault(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, forecastResponse{Location: &place, Forecast: series})
		return
	}

	coord, err := parseCoordinate(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	series, err := h.svc.GetForecast(r.Context(), coord, hours)
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, forecastResponse{Forecast: series})
}

// forecastResponse is the GET /v1/forecast body. Location is set only when
// the request resolved a place name.
type forecastResponse struct {
	Location *models.GeocodeResult `json:"location,omitempty"`
	Forecast models.ForecastSeries `json:"forecast"`
}

// GetLocations handles GET /v1/locations. Returns geocoding candidates for q.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	results, err := h.svc.SearchLocations(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	if results == nil {
		results = []models.GeocodeResult{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GetAstronomy handles GET /v1/astronomy. Requires lat/lon; date defaults
// to today (UTC).
func (h *Handler) GetAstronomy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	coord, err := parseCoordinate(q.Get("lat"), q.Get("lon"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	report, err := h.svc.GetAstronomy(r.Context(), coord, q.Get("date"))
	if err != nil {
		writeFault(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// PostCacheInvalidate handles POST /v1/cache/invalidate. Bumps the cache
// version so all stamped entries become logical misses.
func (h *Handler) PostCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	version, err := h.svc.InvalidateCache(r.Context())
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE", "Unable to invalidate cache")
		if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
			logger.Warn("cache invalidation failed", zap.Error(err))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"invalidated": true,
		"version":     version,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	window := 60 * time.Second
	if h.healthConfig != nil && h.healthConfig.UpstreamWindow > 0 {
		window = h.healthConfig.UpstreamWindow
	}
	// Core providers are always listed; anything else that has recorded
	// traffic (the optional astronomy upstream) joins once it has outcomes.
	upstreams := []string{client.ProviderOpenMeteo, client.ProviderMetNo, client.ProviderGeocode}
	upstreams = append(upstreams, traffic.Upstreams()...)
	for _, upstream := range upstreams {
		if _, done := checks[upstream]; done {
			continue
		}
		checks[upstream] = upstreamStatus(upstream, window, h.degradedErrorPct())
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "skycover",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if IsDraining() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.OverloadWindow > 0 && h.healthConfig.OverloadDenials > 0 {
		if traffic.DenialCount(h.healthConfig.OverloadWindow) >= h.healthConfig.OverloadDenials {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "rate_limit_denials"}
		}
	}
	// Degraded when the primary forecast provider's error rate breaches the
	// threshold. Secondary or geocoding trouble shows in checks but does not
	// flip overall status while the primary is healthy.
	if h.healthConfig.UpstreamWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		if upstreamStatus(client.ProviderOpenMeteo, h.healthConfig.UpstreamWindow, h.healthConfig.DegradedErrorPct) == "unhealthy" {
			return healthResult{"degraded", http.StatusServiceUnavailable, "primary_error_rate"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) degradedErrorPct() int {
	if h.healthConfig != nil && h.healthConfig.DegradedErrorPct > 0 {
		return h.healthConfig.DegradedErrorPct
	}
	return 50
}

// upstreamStatus classifies an upstream by its recent error rate. An
// upstream with no recorded calls in the window reports healthy.
func upstreamStatus(upstream string, window time.Duration, errorPct int) string {
	errors, total := traffic.ErrorRate(upstream, window)
	if total == 0 {
		return "healthy"
	}
	if errors*100 >= errorPct*total {
		return "unhealthy"
	}
	return "healthy"
}

// parseCoordinate parses lat/lon query parameters into a validated coordinate.
func parseCoordinate(latStr, lonStr string) (models.Coordinate, error) {
	latStr = strings.TrimSpace(latStr)
	lonStr = strings.TrimSpace(lonStr)
	if latStr == "" || lonStr == "" {
		return models.Coordinate{}, errors.New("lat and lon are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return models.Coordinate{}, errors.New("lat must be a number")
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return models.Coordinate{}, errors.New("lon must be a number")
	}
	return models.NewCoordinate(lat, lon)
}

// parseIntParam returns 0 for empty or malformed values; the service applies
// its configured default.
func parseIntParam(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// writeFault maps service-layer faults to HTTP responses.
func writeFault(w http.ResponseWriter, r *http.Request, err error) {
	var rle *faults.RateLimitError
	switch {
	case errors.Is(err, faults.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.As(err, &rle):
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfterSeconds()))
		writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error": map[string]interface{}{
				"code":              "RATE_LIMITED",
				"message":           "Too many requests",
				"retryAfterSeconds": rle.RetryAfterSeconds(),
			},
		})
	case errors.Is(err, service.ErrNoMatch):
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "No location matched the query")
	case errors.Is(err, faults.ErrDisabled):
		writeError(w, r, http.StatusNotFound, "ASTRONOMY_DISABLED", "Astronomy provider is not configured")
	case errors.Is(err, faults.ErrForecastUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "FORECAST_UNAVAILABLE", "Unable to fetch forecast data")
		logUpstreamError(r, err)
	case errors.Is(err, faults.ErrGeocodingUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "GEOCODING_UNAVAILABLE", "Unable to resolve location")
		logUpstreamError(r, err)
	default:
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch data")
		logUpstreamError(r, err)
	}
}

// logUpstreamError logs the underlying error at DEBUG level if a logger is
// available in request context.
func logUpstreamError(r *http.Request, err error) {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		logger.Debug("upstream error", zap.Error(err))
	}
}
