//go:build integration
// +build integration

package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/nightsky/skycover/internal/cache"
	"github.com/nightsky/skycover/internal/client"
	"github.com/nightsky/skycover/internal/geocode"
	"github.com/nightsky/skycover/internal/merge"
	"github.com/nightsky/skycover/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests that hit
// real upstream APIs.
type IntegrationTestConfig struct {
	OpenMeteoURL  string
	MetNoURL      string
	GeocodeURL    string
	CacheBackend  string // "in_memory", "memcached", or "redis"
	MemcachedAddr string
	RedisAddr     string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test unless SKYCOVER_INTEGRATION is set; the forecast upstreams
// need no API key but live network calls are opt-in.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	if os.Getenv("SKYCOVER_INTEGRATION") == "" {
		t.Skip("SKYCOVER_INTEGRATION not set, skipping integration test")
	}

	cfg := IntegrationTestConfig{
		OpenMeteoURL:  envOr("OPENMETEO_URL", "https://api.open-meteo.com"),
		MetNoURL:      envOr("METNO_URL", "https://api.met.no"),
		GeocodeURL:    envOr("GEOCODE_URL", "https://geocoding-api.open-meteo.com"),
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:     envOr("REDIS_ADDR", "localhost:6379"),
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// SetupIntegrationService creates a fully wired aggregation service for
// integration tests. Returns the service, the underlying store, and a
// cleanup function.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*service.AggregationService, cache.Store, func()) {
	retry := client.RetryConfig{Attempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}
	openMeteo := client.NewOpenMeteoClient(cfg.OpenMeteoURL, 10*time.Second, retry)
	metNo := client.NewMetNoClient(cfg.MetNoURL, "skycover-integration-test", 10*time.Second, retry)
	geocodeClient := client.NewGeocodeClient(cfg.GeocodeURL, 10*time.Second, retry)

	var store cache.Store
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err != nil {
			t.Logf("memcached not available (%v), using in-memory store", err)
			store = cache.NewInMemoryStore()
		} else {
			store = mc
			t.Logf("using memcached store at %s", cfg.MemcachedAddr)
		}
	case "redis":
		rs, err := cache.NewRedisStore(cache.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			t.Logf("redis not available (%v), using in-memory store", err)
			store = cache.NewInMemoryStore()
		} else {
			store = rs
			t.Logf("using redis store at %s", cfg.RedisAddr)
		}
	default:
		store = cache.NewInMemoryStore()
	}

	versioned := cache.NewVersioned(store)
	merger := merge.New(openMeteo, metNo)
	geocoder := geocode.New(geocodeClient, versioned, time.Hour, 5)
	astro := client.NewAstroClient("https://api.weatherapi.com", os.Getenv("ASTRO_API_KEY"), 10*time.Second, retry)

	svc := service.New(merger, geocoder, versioned, astro, "open-meteo+met-no", service.Config{
		WeatherTTL:     5 * time.Minute,
		AstroTTL:       time.Hour,
		CoordPrecision: 4,
		DefaultHours:   24,
		MaxHours:       72,
	})

	cleanup := func() { _ = store.Close() }
	return svc, store, cleanup
}
