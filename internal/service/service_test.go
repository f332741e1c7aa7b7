package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nightsky/skycover/internal/cache"
	"github.com/nightsky/skycover/internal/faults"
	"github.com/nightsky/skycover/internal/geocode"
	"github.com/nightsky/skycover/internal/merge"
	"github.com/nightsky/skycover/internal/models"
)

var testCoord = models.Coordinate{Latitude: 51.4769, Longitude: 0.0005}

// countingProvider serves a fixed sample per request and counts fetches.
type countingProvider struct {
	name  string
	calls int32
	err   error
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) HourlyForecast(ctx context.Context, coord models.Coordinate, hours int) ([]models.HourlySample, error) {
	atomic.AddInt32(&p.calls, 1)
	if p.err != nil {
		return nil, p.err
	}
	return []models.HourlySample{{
		Time:   time.Now().UTC().Truncate(time.Hour),
		Total:  models.Float(40),
		Source: p.name,
	}}, nil
}

func (p *countingProvider) count() int32 { return atomic.LoadInt32(&p.calls) }

// stubSearch is a fixed-answer geocoding client.
type stubSearch struct {
	results []models.GeocodeResult
	err     error
}

func (s *stubSearch) Search(ctx context.Context, query string, limit int) ([]models.GeocodeResult, error) {
	return s.results, s.err
}

// stubAstro is a fixed-answer astronomy provider.
type stubAstro struct {
	enabled bool
	report  models.AstroReport
	err     error
	calls   int32
}

func (a *stubAstro) Enabled() bool { return a.enabled }

func (a *stubAstro) FetchAstro(ctx context.Context, coord models.Coordinate, date string) (models.AstroReport, error) {
	atomic.AddInt32(&a.calls, 1)
	return a.report, a.err
}

type testHarness struct {
	svc       *AggregationService
	primary   *countingProvider
	secondary *countingProvider
	search    *stubSearch
	astro     *stubAstro
}

func newHarness(cfg Config) *testHarness {
	if cfg.WeatherTTL == 0 {
		cfg.WeatherTTL = 15 * time.Minute
	}
	if cfg.AstroTTL == 0 {
		cfg.AstroTTL = time.Hour
	}
	if cfg.CoordPrecision == 0 {
		cfg.CoordPrecision = 4
	}
	if cfg.DefaultHours == 0 {
		cfg.DefaultHours = 48
	}
	if cfg.MaxHours == 0 {
		cfg.MaxHours = 72
	}
	primary := &countingProvider{name: "a"}
	secondary := &countingProvider{name: "b"}
	search := &stubSearch{}
	astro := &stubAstro{}
	store := cache.NewVersioned(cache.NewInMemoryStore())
	svc := New(
		merge.New(primary, secondary),
		geocode.New(search, store, time.Hour, 5),
		store,
		astro,
		"a+b",
		cfg,
	)
	return &testHarness{svc: svc, primary: primary, secondary: secondary, search: search, astro: astro}
}

// TestGetForecast_CacheHit verifies a repeated lookup inside the TTL serves
// from cache without another upstream fetch.
func TestGetForecast_CacheHit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})

	first, err := h.svc.GetForecast(ctx, testCoord, 24)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	second, err := h.svc.GetForecast(ctx, testCoord, 24)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}

	if h.primary.count() != 1 || h.secondary.count() != 1 {
		t.Errorf("provider calls = %d/%d, want 1/1; second lookup must hit cache", h.primary.count(), h.secondary.count())
	}
	if len(first.Samples) != len(second.Samples) {
		t.Errorf("cached series differs: %d vs %d samples", len(first.Samples), len(second.Samples))
	}
}

// TestGetForecast_NearbyCoordinatesShareEntry verifies coordinates equal
// after rounding share one cache entry.
func TestGetForecast_NearbyCoordinatesShareEntry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})

	a := models.Coordinate{Latitude: 51.47691, Longitude: 0.00051}
	b := models.Coordinate{Latitude: 51.47694, Longitude: 0.00049}
	if _, err := h.svc.GetForecast(ctx, a, 24); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if _, err := h.svc.GetForecast(ctx, b, 24); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if h.primary.count() != 1 {
		t.Errorf("primary calls = %d, want 1; rounded coordinates share an entry", h.primary.count())
	}
}

// TestGetForecast_InvalidCoordinate verifies validation fails before any
// provider call.
func TestGetForecast_InvalidCoordinate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})

	_, err := h.svc.GetForecast(ctx, models.Coordinate{Latitude: 95, Longitude: 10}, 24)
	if !errors.Is(err, faults.ErrInvalidInput) {
		t.Fatalf("GetForecast() error = %v, want ErrInvalidInput", err)
	}
	if h.primary.count() != 0 || h.secondary.count() != 0 {
		t.Error("providers called for an invalid coordinate")
	}
}

// TestGetForecast_HoursClamped verifies zero hours takes the default and
// values above the maximum are truncated rather than rejected.
func TestGetForecast_HoursClamped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{DefaultHours: 48, MaxHours: 72})

	got, err := h.svc.GetForecast(ctx, testCoord, 0)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got.Hours != 48 {
		t.Errorf("Hours = %d, want default 48", got.Hours)
	}

	got, err = h.svc.GetForecast(ctx, testCoord, 500)
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if got.Hours != 72 {
		t.Errorf("Hours = %d, want clamped 72", got.Hours)
	}

	if _, err := h.svc.GetForecast(ctx, testCoord, -3); !errors.Is(err, faults.ErrInvalidInput) {
		t.Errorf("GetForecast(-3) error = %v, want ErrInvalidInput", err)
	}
}

// TestGetForecast_FailureNotCached verifies a dual-provider failure is never
// written to the cache, so the next lookup goes back upstream.
func TestGetForecast_FailureNotCached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})
	h.primary.err = errors.New("p down")
	h.secondary.err = errors.New("s down")

	_, err := h.svc.GetForecast(ctx, testCoord, 24)
	if !errors.Is(err, faults.ErrForecastUnavailable) {
		t.Fatalf("GetForecast() error = %v, want ErrForecastUnavailable", err)
	}

	h.primary.err = nil
	h.secondary.err = nil
	got, err := h.svc.GetForecast(ctx, testCoord, 24)
	if err != nil {
		t.Fatalf("GetForecast() after recovery error = %v", err)
	}
	if len(got.Samples) == 0 {
		t.Error("no samples after recovery; failure must not be cached")
	}
	if h.primary.count() != 2 {
		t.Errorf("primary calls = %d, want 2", h.primary.count())
	}
}

// TestGetForecast_InvalidationForcesRefetch verifies InvalidateCache makes a
// previously cached entry a logical miss.
func TestGetForecast_InvalidationForcesRefetch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})

	if _, err := h.svc.GetForecast(ctx, testCoord, 24); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if _, err := h.svc.InvalidateCache(ctx); err != nil {
		t.Fatalf("InvalidateCache() error = %v", err)
	}
	if _, err := h.svc.GetForecast(ctx, testCoord, 24); err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if h.primary.count() != 2 {
		t.Errorf("primary calls = %d, want 2 after invalidation", h.primary.count())
	}
}

// TestGetForecastByQuery verifies resolution to the most relevant candidate
// and that the chosen candidate is returned for display.
func TestGetForecastByQuery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})
	h.search.results = []models.GeocodeResult{
		{Name: "Mauna Kea", Coordinate: models.Coordinate{Latitude: 19.8206, Longitude: -155.4681}},
		{Name: "Mauna Loa", Coordinate: models.Coordinate{Latitude: 19.4721, Longitude: -155.5922}},
	}

	series, place, err := h.svc.GetForecastByQuery(ctx, "mauna", 24)
	if err != nil {
		t.Fatalf("GetForecastByQuery() error = %v", err)
	}
	if place.Name != "Mauna Kea" {
		t.Errorf("chosen = %q, want first candidate", place.Name)
	}
	if series.Coordinate != place.Coordinate {
		t.Errorf("series coordinate %v != chosen %v", series.Coordinate, place.Coordinate)
	}
}

// TestGetForecastByQuery_NoMatch verifies zero candidates map to ErrNoMatch,
// distinct from a provider failure.
func TestGetForecastByQuery_NoMatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})

	_, _, err := h.svc.GetForecastByQuery(ctx, "xzzqqy", 24)
	if !errors.Is(err, ErrNoMatch) {
		t.Fatalf("GetForecastByQuery() error = %v, want ErrNoMatch", err)
	}
	if h.primary.count() != 0 {
		t.Error("forecast fetched despite no matching location")
	}
}

// TestGetForecastByQuery_GeocodingDown verifies a geocoding failure surfaces
// as ErrGeocodingUnavailable, not ErrNoMatch.
func TestGetForecastByQuery_GeocodingDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})
	h.search.err = errors.New("connection refused")

	_, _, err := h.svc.GetForecastByQuery(ctx, "mauna kea", 24)
	if !errors.Is(err, faults.ErrGeocodingUnavailable) {
		t.Fatalf("GetForecastByQuery() error = %v, want ErrGeocodingUnavailable", err)
	}
	if errors.Is(err, ErrNoMatch) {
		t.Error("provider failure must not read as a legitimate empty result")
	}
}

// TestGetAstronomy_Disabled verifies the keyless configuration reports
// ErrDisabled.
func TestGetAstronomy_Disabled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})
	h.astro.enabled = false

	_, err := h.svc.GetAstronomy(ctx, testCoord, "2026-03-01")
	if !errors.Is(err, faults.ErrDisabled) {
		t.Fatalf("GetAstronomy() error = %v, want ErrDisabled", err)
	}
}

// TestGetAstronomy_InvalidDate verifies a malformed date is rejected before
// the provider is asked.
func TestGetAstronomy_InvalidDate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})
	h.astro.enabled = true

	_, err := h.svc.GetAstronomy(ctx, testCoord, "March 1st")
	if !errors.Is(err, faults.ErrInvalidInput) {
		t.Fatalf("GetAstronomy() error = %v, want ErrInvalidInput", err)
	}
	if atomic.LoadInt32(&h.astro.calls) != 0 {
		t.Error("astronomy provider called for invalid date")
	}
}

// TestGetAstronomy_Cached verifies astronomy answers are served from cache
// within the TTL.
func TestGetAstronomy_Cached(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})
	h.astro.enabled = true
	h.astro.report = models.AstroReport{Date: "2026-03-01", MoonPhase: "Full Moon", MoonIllumination: 100}

	first, err := h.svc.GetAstronomy(ctx, testCoord, "2026-03-01")
	if err != nil {
		t.Fatalf("GetAstronomy() error = %v", err)
	}
	second, err := h.svc.GetAstronomy(ctx, testCoord, "2026-03-01")
	if err != nil {
		t.Fatalf("GetAstronomy() error = %v", err)
	}
	if atomic.LoadInt32(&h.astro.calls) != 1 {
		t.Errorf("astro calls = %d, want 1", atomic.LoadInt32(&h.astro.calls))
	}
	if first.MoonPhase != second.MoonPhase {
		t.Error("cached report differs")
	}
}

// TestInvalidateCache_ReturnsNewVersion verifies the bumped version is
// reported to the caller.
func TestInvalidateCache_ReturnsNewVersion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(Config{})

	v1, err := h.svc.InvalidateCache(ctx)
	if err != nil {
		t.Fatalf("InvalidateCache() error = %v", err)
	}
	v2, err := h.svc.InvalidateCache(ctx)
	if err != nil {
		t.Fatalf("InvalidateCache() error = %v", err)
	}
	if v2 != v1+1 {
		t.Errorf("versions = %d then %d, want monotonic increment", v1, v2)
	}
}
