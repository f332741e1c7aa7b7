package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nightsky/skycover/internal/cache"
	"github.com/nightsky/skycover/internal/circuitbreaker"
	"github.com/nightsky/skycover/internal/client"
	"github.com/nightsky/skycover/internal/config"
	"github.com/nightsky/skycover/internal/geocode"
	httphandler "github.com/nightsky/skycover/internal/http"
	"github.com/nightsky/skycover/internal/merge"
	"github.com/nightsky/skycover/internal/models"
	"github.com/nightsky/skycover/internal/observability"
	"github.com/nightsky/skycover/internal/ratelimit"
	"github.com/nightsky/skycover/internal/service"
)

func main() {
	_ = godotenv.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	retry := client.RetryConfig{
		Attempts:  cfg.RetryAttempts,
		BaseDelay: cfg.RetryBaseDelay,
		MaxDelay:  cfg.RetryMaxDelay,
	}

	openMeteo := client.NewOpenMeteoClient(cfg.OpenMeteoURL, cfg.OpenMeteoTimeout, retry)
	metNo := client.NewMetNoClient(cfg.MetNoURL, cfg.MetNoUserAgent, cfg.MetNoTimeout, retry)
	geocodeClient := client.NewGeocodeClient(cfg.GeocodeURL, cfg.GeocodeTimeout, retry)
	astroClient := client.NewAstroClient(cfg.AstroURL, cfg.AstroAPIKey, cfg.AstroTimeout, retry)

	if cfg.BreakerEnabled {
		for provider, attach := range map[string]func(*circuitbreaker.Breaker){
			client.ProviderOpenMeteo: openMeteo.SetBreaker,
			client.ProviderMetNo:     metNo.SetBreaker,
		} {
			cb := circuitbreaker.New(circuitbreaker.Config{
				FailureThreshold: cfg.BreakerFailureThreshold,
				SuccessThreshold: cfg.BreakerSuccessThreshold,
				Cooldown:         cfg.BreakerCooldown,
				Provider:         provider,
				OnStateChange: func(provider string, from, to circuitbreaker.State) {
					observability.CircuitBreakerState.WithLabelValues(provider).Set(float64(to))
				},
			})
			attach(cb)
			observability.CircuitBreakerState.WithLabelValues(provider).Set(0)
		}
		logger.Info("circuit breakers enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("cooldown", cfg.BreakerCooldown))
	}

	var store cache.Store
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedStore(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached store", zap.Error(err))
		}
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "redis":
		rs, err := cache.NewRedisStore(cache.RedisConfig{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
		})
		if err != nil {
			logger.Fatal("redis store", zap.Error(err))
		}
		store = rs
		logger.Info("cache backend: redis", zap.String("addr", cfg.RedisAddr))
	default:
		store = cache.NewInMemoryStore()
		logger.Info("cache backend: in_memory")
	}
	versioned := cache.NewVersioned(store)

	merger := merge.New(openMeteo, metNo)
	geocoder := geocode.New(geocodeClient, versioned, cfg.GeocodeTTL, cfg.GeocodeLimit)
	providersTag := client.ProviderOpenMeteo + "+" + client.ProviderMetNo

	svc := service.New(merger, geocoder, versioned, astroClient, providersTag, service.Config{
		WeatherTTL:      cfg.WeatherTTL,
		AstroTTL:        cfg.AstroTTL,
		CoordPrecision:  cfg.CoordPrecision,
		DefaultHours:    cfg.DefaultHours,
		MaxHours:        cfg.MaxHours,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
	})
	if astroClient.Enabled() {
		logger.Info("astronomy provider enabled")
	}

	healthConfig := &httphandler.HealthConfig{
		UpstreamWindow:   cfg.HealthUpstreamWindow,
		DegradedErrorPct: cfg.HealthDegradedErrorPct,
		OverloadWindow:   cfg.OverloadWindow,
		OverloadDenials:  cfg.OverloadDenials,
		StartTime:        time.Now(),
		CachePing:        store.Ping,
	}
	handler := httphandler.NewHandler(svc, healthConfig, logger)

	observability.RegisterOverloadGauges(cfg.OverloadWindow)

	warmSites := warmCoordinates(cfg)
	if cfg.WarmCache && len(warmSites) > 0 {
		warmer := cache.NewWarmer(svc, logger)
		warmCtx, warmCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := warmer.Warm(warmCtx, warmSites, cfg.DefaultHours); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(context.Background(), warmSites, cfg.DefaultHours, cfg.WarmInterval); err != nil && err != context.Canceled {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	identityLimiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitCeiling)
	var globalLimiter *rate.Limiter
	if cfg.GlobalRPS > 0 {
		globalLimiter = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst)
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(httphandler.GlobalRateLimitMiddleware(globalLimiter))
	api.Use(httphandler.RateLimitMiddleware(identityLimiter))
	api.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	api.HandleFunc("/forecast", handler.GetForecast).Methods("GET")
	api.HandleFunc("/locations", handler.GetLocations).Methods("GET")
	api.HandleFunc("/astronomy", handler.GetAstronomy).Methods("GET")
	api.HandleFunc("/cache/invalidate", handler.PostCacheInvalidate).Methods("POST")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	httphandler.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if err := store.Close(); err != nil {
		logger.Error("cache close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// warmCoordinates collects the default site plus watch sites for cache warming.
func warmCoordinates(cfg *config.Config) []models.Coordinate {
	var coords []models.Coordinate
	if cfg.DefaultSite != nil {
		coords = append(coords, models.Coordinate{Latitude: cfg.DefaultSite.Latitude, Longitude: cfg.DefaultSite.Longitude})
	}
	for _, s := range cfg.WatchSites {
		coords = append(coords, models.Coordinate{Latitude: s.Latitude, Longitude: s.Longitude})
	}
	return coords
}
