// Package merge reconciles hourly cloud-cover series from two independent
// providers into one canonical series. The primary provider wins hour by
// hour; the secondary fills whole missing hours and backfills individual
// missing bands. Hours neither provider covers are dropped, never
// interpolated.
package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/observability"
)

// HourlyProvider is a weather provider adapter that returns canonical hourly
// samples for a coordinate and horizon.
type HourlyProvider interface {
	Name() string
	HourlyForecast(ctx context.Context, coord models.Coordinate, hours int) ([]models.HourlySample, error)
}

// Merger fetches from both providers concurrently and merges the outcome.
// It never caches; caching policy belongs to the aggregation service.
type Merger struct {
	primary   HourlyProvider
	secondary HourlyProvider
	now       func() time.Time
}

// New creates a Merger over the primary and secondary providers.
func New(primary, secondary HourlyProvider) *Merger {
	return &Merger{primary: primary, secondary: secondary, now: time.Now}
}

type fetchResult struct {
	samples []models.HourlySample
	err     error
}

// Merge produces the canonical series for the hour grid
// [now, now+requestedHours). Both fetches run concurrently and both outcomes
// are awaited before merging; cancelling ctx cancels both. When only the
// secondary answers, the series is flagged SecondaryOnly; when neither does,
// the result is faults.ErrForecastUnavailable.
func (m *Merger) Merge(ctx context.Context, coord models.Coordinate, requestedHours int) (models.ForecastSeries, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	primaryCh := make(chan fetchResult, 1)
	secondaryCh := make(chan fetchResult, 1)
	go func() {
		s, err := m.primary.HourlyForecast(fetchCtx, coord, requestedHours)
		primaryCh <- fetchResult{samples: s, err: err}
	}()
	go func() {
		s, err := m.secondary.HourlyForecast(fetchCtx, coord, requestedHours)
		secondaryCh <- fetchResult{samples: s, err: err}
	}()
	primary := <-primaryCh
	secondary := <-secondaryCh

	if primary.err != nil && secondary.err != nil {
		observability.MergeResultsTotal.WithLabelValues("unavailable").Inc()
		return models.ForecastSeries{}, fmt.Errorf("%w: %s: %v; %s: %v",
			faults.ErrForecastUnavailable,
			m.primary.Name(), primary.err,
			m.secondary.Name(), secondary.err)
	}

	byHourPrimary := indexByHour(primary.samples)
	byHourSecondary := indexByHour(secondary.samples)

	now := m.now().UTC().Truncate(time.Hour)
	merged := make([]models.HourlySample, 0, requestedHours)
	for i := 0; i < requestedHours; i++ {
		hour := now.Add(time.Duration(i) * time.Hour)
		base, haveBase := byHourPrimary[hour]
		fill, haveFill := byHourSecondary[hour]
		switch {
		case haveBase && haveFill:
			merged = append(merged, backfillBands(base, fill))
		case haveBase:
			merged = append(merged, base)
		case haveFill:
			merged = append(merged, fill)
		}
	}

	secondaryOnly := primary.err != nil
	if secondaryOnly {
		observability.MergeResultsTotal.WithLabelValues("secondary_only").Inc()
	} else {
		observability.MergeResultsTotal.WithLabelValues("full").Inc()
	}

	return models.ForecastSeries{
		Coordinate:    coord,
		Hours:         requestedHours,
		Samples:       merged,
		SecondaryOnly: secondaryOnly,
		FetchedAt:     m.now().UTC(),
	}, nil
}

// indexByHour normalizes samples to UTC hour alignment and indexes them by
// hour, keeping the first occurrence of any duplicated timestamp.
func indexByHour(samples []models.HourlySample) map[time.Time]models.HourlySample {
	out := make(map[time.Time]models.HourlySample, len(samples))
	for _, s := range samples {
		hour := s.Time.UTC().Truncate(time.Hour)
		if _, exists := out[hour]; exists {
			continue
		}
		s.Time = hour
		out[hour] = s
	}
	return out
}

// backfillBands fills the bands missing from base with the secondary's
// values for the same hour. Field-level, not record-level: partial data
// beats a gap in a series used for planning. The sample keeps the primary's
// origin tag.
func backfillBands(base, fill models.HourlySample) models.HourlySample {
	if base.Total == nil {
		base.Total = fill.Total
	}
	if base.Low == nil {
		base.Low = fill.Low
	}
	if base.Medium == nil {
		base.Medium = fill.Medium
	}
	if base.High == nil {
		base.High = fill.High
	}
	return base
}

// SetClock overrides the time source. For tests only.
func (m *Merger) SetClock(now func() time.Time) { m.now = now }
