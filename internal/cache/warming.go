package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/observability"
)

// ForecastFetcher is implemented by the service layer. Used by Warmer to
// avoid a circular dependency on the service package.
type ForecastFetcher interface {
	GetForecast(ctx context.Context, coord models.Coordinate, hours int) (models.ForecastSeries, error)
}

// Warmer prefetches forecasts for a fixed set of coordinates (the configured
// default site plus any watched sites) so the first render after startup or
// TTL expiry hits the cache.
type Warmer struct {
	fetcher ForecastFetcher
	logger  *zap.Logger
}

// NewWarmer creates a Warmer using the given fetcher and logger.
func NewWarmer(fetcher ForecastFetcher, logger *zap.Logger) *Warmer {
	return &Warmer{fetcher: fetcher, logger: logger}
}

// Warm fetches each coordinate concurrently, populating the cache through
// the fetcher. Returns an aggregated error if any coordinate failed.
func (w *Warmer) Warm(ctx context.Context, coords []models.Coordinate, hours int) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming forecast cache", zap.Int("sites", len(coords)), zap.Int("hours", hours))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(coords))
	for _, c := range coords {
		c := c
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.fetcher.GetForecast(ctx, c, hours); err != nil {
				errCh <- fmt.Errorf("warm %.4f,%.4f: %w", c.Latitude, c.Longitude, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	observability.CacheWarmingDurationSeconds.Observe(time.Since(start).Seconds())
	if len(errs) > 0 {
		return fmt.Errorf("cache warming: %d of %d sites failed: %v", len(errs), len(coords), errs[0])
	}
	return nil
}

// WarmPeriodic re-warms on the given interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, coords []models.Coordinate, hours int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, coords, hours); err != nil && w.logger != nil {
				w.logger.Warn("periodic warm failed", zap.Error(err))
			}
		}
	}
}
