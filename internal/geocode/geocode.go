// Package geocode resolves free-text locations to coordinate candidates,
// fronted by a 24-hour versioned cache.
package geocode

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nightsky/skycover/internal/cache"
	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/observability"
	"github.com/nightsky/skycover/internal/validation"
)

// SearchClient is the geocoding provider adapter.
type SearchClient interface {
	Search(ctx context.Context, query string, limit int) ([]models.GeocodeResult, error)
}

// Geocoder caches provider lookups under the normalized query. An empty
// provider result is cached too: "not found" is as legitimate an answer as a
// match, and it is stable over the cache lifetime.
type Geocoder struct {
	client SearchClient
	cache  *cache.Versioned
	ttl    time.Duration
	limit  int
}

// New creates a Geocoder. limit caps the candidates returned for
// presentation to a human chooser.
func New(client SearchClient, store *cache.Versioned, ttl time.Duration, limit int) *Geocoder {
	if limit <= 0 {
		limit = 5
	}
	return &Geocoder{client: client, cache: store, ttl: ttl, limit: limit}
}

// Resolve returns candidates for query, ordered by provider relevance. An
// empty result means the location does not exist; a wrapped
// faults.ErrGeocodingUnavailable means the provider could not be asked —
// callers can tell "not found" from "could not check".
func (g *Geocoder) Resolve(ctx context.Context, query string) ([]models.GeocodeResult, error) {
	q, err := validation.ValidateQuery(query)
	if err != nil {
		return nil, err
	}

	key := cache.GeocodeKey(q)
	var cached []models.GeocodeResult
	ok, cacheErr := g.cache.GetJSON(ctx, key, &cached)
	if cacheErr == nil && ok {
		observability.CacheHitsTotal.WithLabelValues("geocode").Inc()
		observability.GeocodeQueriesTotal.WithLabelValues("hit").Inc()
		return cached, nil
	}
	observability.CacheMissesTotal.WithLabelValues("geocode").Inc()

	results, err := g.client.Search(ctx, q, g.limit)
	if err != nil {
		observability.GeocodeQueriesTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("%w: %v", faults.ErrGeocodingUnavailable, err)
	}
	if len(results) > g.limit {
		results = results[:g.limit]
	}

	if setErr := g.cache.SetJSON(ctx, key, results, g.ttl); setErr != nil {
		if logger := loggerFromContext(ctx); logger != nil {
			logger.Warn("geocode cache set failed", zap.String("query", q), zap.Error(setErr))
		}
	}

	if len(results) == 0 {
		observability.GeocodeQueriesTotal.WithLabelValues("empty").Inc()
		return []models.GeocodeResult{}, nil
	}
	observability.GeocodeQueriesTotal.WithLabelValues("resolved").Inc()
	return results, nil
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
