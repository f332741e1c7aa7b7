// Package service orchestrates the lookup path: resolve location, check the
// versioned cache, fetch and merge from upstreams on a miss, store the
// result. Failures are never cached.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nightsky/skycover/internal/cache"
	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/geocode"
	"github.com/nightsky/skycover/internal/merge"
	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/observability"
	"github.com/nightsky/skycover/internal/validation"
)

// ErrNoMatch is returned when a query geocodes to zero candidates. Distinct
// from faults.ErrGeocodingUnavailable: the provider answered, nothing matched.
var ErrNoMatch = errors.New("no matching location")

// AstroProvider is the optional astronomy adapter.
type AstroProvider interface {
	Enabled() bool
	FetchAstro(ctx context.Context, coord models.Coordinate, date string) (models.AstroReport, error)
}

// Config holds the tunables the aggregation service reads. All values come
// from configuration, never from constants inside the algorithmic components.
type Config struct {
	WeatherTTL      time.Duration
	AstroTTL        time.Duration
	CoordPrecision  int
	DefaultHours    int
	MaxHours        int
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
}

// AggregationService is the single entry point renderers and public lookup
// endpoints call for forecasts.
type AggregationService struct {
	merger       *merge.Merger
	geocoder     *geocode.Geocoder
	cache        *cache.Versioned
	astro        AstroProvider
	cfg          Config
	providersTag string
	coalescer    *coalescer
	stampede     *stampedeTracker
	now          func() time.Time
}

// New creates the AggregationService. providersTag identifies the provider
// set in cache keys so a provider change cannot serve stale merges.
func New(merger *merge.Merger, geocoder *geocode.Geocoder, store *cache.Versioned, astro AstroProvider, providersTag string, cfg Config) *AggregationService {
	s := &AggregationService{
		merger:       merger,
		geocoder:     geocoder,
		cache:        store,
		astro:        astro,
		cfg:          cfg,
		providersTag: providersTag,
		stampede:     newStampedeTracker(),
		now:          time.Now,
	}
	if cfg.CoalesceEnabled && cfg.CoalesceTimeout > 0 {
		s.coalescer = newCoalescer(cfg.CoalesceTimeout)
	}
	return s
}

// GetForecast returns the merged hourly series for coord, serving from cache
// within the weather TTL. requestedHours of zero takes the configured
// default; values above the maximum are truncated.
func (s *AggregationService) GetForecast(ctx context.Context, coord models.Coordinate, requestedHours int) (models.ForecastSeries, error) {
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.ForecastSeries{}, err
	}
	hours, err := validation.ClampHours(requestedHours, s.cfg.DefaultHours, s.cfg.MaxHours)
	if err != nil {
		return models.ForecastSeries{}, err
	}
	observability.ForecastQueriesTotal.Inc()
	logger := loggerFromContext(ctx)

	key := cache.WeatherKey(coord, s.cfg.CoordPrecision, hours, s.providersTag)
	var cached models.ForecastSeries
	ok, cacheErr := s.cache.GetJSON(ctx, key, &cached)
	if cacheErr == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("weather").Inc()
		if logger != nil {
			logger.Debug("forecast cache hit", zap.String("key", key))
		}
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("weather").Inc()

	concurrent := s.stampede.recordMiss(key)
	defer s.stampede.recordDone(key)
	if concurrent > 1 && logger != nil {
		logger.Debug("concurrent misses on one key", zap.String("key", key), zap.Int("count", concurrent))
	}

	if s.coalescer != nil {
		return s.coalescer.do(ctx, key, func() (models.ForecastSeries, error) {
			return s.fetchAndStore(ctx, key, coord, hours)
		})
	}
	return s.fetchAndStore(ctx, key, coord, hours)
}

// fetchAndStore merges fresh provider data and writes it to the cache. A
// failed merge writes nothing, so the next request retries upstream instead
// of being stuck behind a cached error.
func (s *AggregationService) fetchAndStore(ctx context.Context, key string, coord models.Coordinate, hours int) (models.ForecastSeries, error) {
	series, err := s.merger.Merge(ctx, coord, hours)
	if err != nil {
		return models.ForecastSeries{}, err
	}
	if setErr := s.cache.SetJSON(ctx, key, series, s.cfg.WeatherTTL); setErr != nil {
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("forecast cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return series, nil
}

// GetForecastByQuery geocodes query and returns the forecast for the most
// relevant candidate, along with that candidate for display. Disambiguation
// beyond "take the best match" belongs to the caller via SearchLocations.
func (s *AggregationService) GetForecastByQuery(ctx context.Context, query string, requestedHours int) (models.ForecastSeries, models.GeocodeResult, error) {
	candidates, err := s.geocoder.Resolve(ctx, query)
	if err != nil {
		return models.ForecastSeries{}, models.GeocodeResult{}, err
	}
	if len(candidates) == 0 {
		return models.ForecastSeries{}, models.GeocodeResult{}, fmt.Errorf("%w: %q", ErrNoMatch, query)
	}
	chosen := candidates[0]
	series, err := s.GetForecast(ctx, chosen.Coordinate, requestedHours)
	if err != nil {
		return models.ForecastSeries{}, models.GeocodeResult{}, err
	}
	return series, chosen, nil
}

// SearchLocations returns geocoding candidates for query.
func (s *AggregationService) SearchLocations(ctx context.Context, query string) ([]models.GeocodeResult, error) {
	return s.geocoder.Resolve(ctx, query)
}

// GetAstronomy returns moon and twilight data for coord on date
// (YYYY-MM-DD; empty means today, UTC). Returns faults.ErrDisabled when no
// astronomy credential is configured.
func (s *AggregationService) GetAstronomy(ctx context.Context, coord models.Coordinate, date string) (models.AstroReport, error) {
	if err := validation.ValidateCoordinate(coord); err != nil {
		return models.AstroReport{}, err
	}
	if date == "" {
		date = s.now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return models.AstroReport{}, fmt.Errorf("%w: date must be YYYY-MM-DD", faults.ErrInvalidInput)
	}
	if !s.astro.Enabled() {
		return models.AstroReport{}, fmt.Errorf("%w: astronomy provider not configured", faults.ErrDisabled)
	}

	key := cache.AstroKey(coord, s.cfg.CoordPrecision, date)
	var cached models.AstroReport
	ok, cacheErr := s.cache.GetJSON(ctx, key, &cached)
	if cacheErr == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("astro").Inc()
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("astro").Inc()

	report, err := s.astro.FetchAstro(ctx, coord, date)
	if err != nil {
		return models.AstroReport{}, err
	}
	if setErr := s.cache.SetJSON(ctx, key, report, s.cfg.AstroTTL); setErr != nil {
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("astro cache set failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return report, nil
}

// InvalidateCache bumps the global cache version, making every cached entry
// a logical miss, and returns the new version.
func (s *AggregationService) InvalidateCache(ctx context.Context) (uint64, error) {
	version, err := s.cache.InvalidateAll(ctx)
	if err != nil {
		return 0, err
	}
	observability.CacheInvalidationsTotal.Inc()
	if logger := loggerFromContext(ctx); logger != nil {
		logger.Info("cache invalidated", zap.Uint64("version", version))
	}
	return version, nil
}

// loggerFromContext extracts the request-scoped zap.Logger, if any.
func loggerFromContext(ctx context.Context) *zap.Logger {
	if v := ctx.Value("logger"); v != nil {
		if l, ok := v.(*zap.Logger); ok {
			return l
		}
	}
	return nil
}
