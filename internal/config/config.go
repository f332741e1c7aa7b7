// Package config loads service configuration from config/{ENV_NAME}.yaml
// with env-var overrides for deployment-specific values and secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Site is a named coordinate pair from configuration.
type Site struct {
	Name      string
	Latitude  float64
	Longitude float64
}

// Config holds service configuration. The aggregation service, rate limiter,
// and clients receive these values at construction; nothing reads ambient
// config at request time.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration

	OpenMeteoURL     string
	OpenMeteoTimeout time.Duration
	MetNoURL         string
	MetNoUserAgent   string
	MetNoTimeout     time.Duration
	GeocodeURL       string
	GeocodeTimeout   time.Duration
	GeocodeLimit     int
	AstroURL         string
	AstroAPIKey      string // empty disables the astronomy provider
	AstroTimeout     time.Duration

	CacheBackend   string // "in_memory", "memcached", or "redis"
	WeatherTTL     time.Duration
	GeocodeTTL     time.Duration
	AstroTTL       time.Duration
	CoordPrecision int

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisDialTimeout  time.Duration
	RedisReadTimeout  time.Duration
	RedisWriteTimeout time.Duration

	DefaultHours int
	MaxHours     int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerEnabled          bool
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerCooldown         time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	RateLimitWindow  time.Duration
	RateLimitCeiling int
	GlobalRPS        int
	GlobalBurst      int

	HealthUpstreamWindow   time.Duration
	HealthDegradedErrorPct int
	OverloadWindow         time.Duration
	OverloadDenials        int

	DefaultSite  *Site
	WatchSites   []Site
	WarmCache    bool
	WarmInterval time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Providers struct {
		OpenMeteo struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"openmeteo"`
		MetNo struct {
			URL       string `yaml:"url"`
			UserAgent string `yaml:"user_agent"`
			Timeout   string `yaml:"timeout"`
		} `yaml:"metno"`
		Geocode struct {
			URL         string `yaml:"url"`
			Timeout     string `yaml:"timeout"`
			ResultLimit int    `yaml:"result_limit"`
		} `yaml:"geocode"`
		Astro struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"astro"`
	} `yaml:"providers"`

	Cache struct {
		Backend        string `yaml:"backend"`
		WeatherTTL     string `yaml:"weather_ttl"`
		GeocodeTTL     string `yaml:"geocode_ttl"`
		AstroTTL       string `yaml:"astro_ttl"`
		CoordPrecision int    `yaml:"coord_precision"`
		Memcached      struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr         string `yaml:"addr"`
			DB           int    `yaml:"db"`
			DialTimeout  string `yaml:"dial_timeout"`
			ReadTimeout  string `yaml:"read_timeout"`
			WriteTimeout string `yaml:"write_timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Forecast struct {
		DefaultHours int `yaml:"default_hours"`
		MaxHours     int `yaml:"max_hours"`
	} `yaml:"forecast"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		BreakerEnabled          *bool  `yaml:"breaker_enabled"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerCooldown         string `yaml:"breaker_cooldown"`
		CoalesceEnabled         *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout         string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	RateLimit struct {
		Window      string `yaml:"window"`
		Ceiling     int    `yaml:"ceiling"`
		GlobalRPS   int    `yaml:"global_rps"`
		GlobalBurst int    `yaml:"global_burst"`
	} `yaml:"rate_limit"`

	Health struct {
		UpstreamWindow   string `yaml:"upstream_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
		OverloadWindow   string `yaml:"overload_window"`
		OverloadDenials  int    `yaml:"overload_denials"`
	} `yaml:"health"`

	Sites struct {
		Default *struct {
			Name      string  `yaml:"name"`
			Latitude  float64 `yaml:"latitude"`
			Longitude float64 `yaml:"longitude"`
		} `yaml:"default"`
		Watch []struct {
			Name      string  `yaml:"name"`
			Latitude  float64 `yaml:"latitude"`
			Longitude float64 `yaml:"longitude"`
		} `yaml:"watch"`
		Warm         *bool  `yaml:"warm"`
		WarmInterval string `yaml:"warm_interval"`
	} `yaml:"sites"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"inflight_timeout"`
		InFlightCheckInterval string `yaml:"inflight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	AstroAPIKey   string `yaml:"astro_api_key"`
	RedisPassword string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev).
// Secrets come from env (ASTRO_API_KEY, REDIS_PASSWORD) or
// config/secrets.yaml. Call from the project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 10*time.Second)

	cfg.OpenMeteoURL = defaultString(fc.Providers.OpenMeteo.URL, "https://api.open-meteo.com")
	cfg.OpenMeteoTimeout = parseDuration(fc.Providers.OpenMeteo.Timeout, 5*time.Second)
	cfg.MetNoURL = defaultString(fc.Providers.MetNo.URL, "https://api.met.no")
	cfg.MetNoUserAgent = defaultString(fc.Providers.MetNo.UserAgent, "skycover/1.0 github.com/nightsky/skycover")
	cfg.MetNoTimeout = parseDuration(fc.Providers.MetNo.Timeout, 5*time.Second)
	cfg.GeocodeURL = defaultString(fc.Providers.Geocode.URL, "https://geocoding-api.open-meteo.com")
	cfg.GeocodeTimeout = parseDuration(fc.Providers.Geocode.Timeout, 5*time.Second)
	cfg.GeocodeLimit = fc.Providers.Geocode.ResultLimit
	if cfg.GeocodeLimit <= 0 {
		cfg.GeocodeLimit = 5
	}
	cfg.AstroURL = defaultString(fc.Providers.Astro.URL, "https://api.weatherapi.com")
	cfg.AstroTimeout = parseDuration(fc.Providers.Astro.Timeout, 5*time.Second)

	cfg.AstroAPIKey = os.Getenv("ASTRO_API_KEY")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if cfg.AstroAPIKey == "" || cfg.RedisPassword == "" {
		secretsPath := filepath.Join(cwd, "config", "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			if cfg.AstroAPIKey == "" {
				cfg.AstroAPIKey = sec.AstroAPIKey
			}
			if cfg.RedisPassword == "" {
				cfg.RedisPassword = sec.RedisPassword
			}
		}
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.WeatherTTL = parseDuration(fc.Cache.WeatherTTL, 15*time.Minute)
	cfg.GeocodeTTL = parseDuration(fc.Cache.GeocodeTTL, 24*time.Hour)
	cfg.AstroTTL = parseDuration(fc.Cache.AstroTTL, 6*time.Hour)
	cfg.CoordPrecision = fc.Cache.CoordPrecision
	if cfg.CoordPrecision <= 0 {
		cfg.CoordPrecision = 4
	}

	cfg.MemcachedAddrs = defaultString(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.RedisAddr = defaultString(strings.TrimSpace(os.Getenv("REDIS_ADDR")), strings.TrimSpace(fc.Cache.Redis.Addr))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisDB = fc.Cache.Redis.DB
	cfg.RedisDialTimeout = parseDuration(fc.Cache.Redis.DialTimeout, 2*time.Second)
	cfg.RedisReadTimeout = parseDuration(fc.Cache.Redis.ReadTimeout, 500*time.Millisecond)
	cfg.RedisWriteTimeout = parseDuration(fc.Cache.Redis.WriteTimeout, 500*time.Millisecond)

	cfg.DefaultHours = fc.Forecast.DefaultHours
	if cfg.DefaultHours <= 0 {
		cfg.DefaultHours = 48
	}
	cfg.MaxHours = fc.Forecast.MaxHours
	if cfg.MaxHours <= 0 {
		cfg.MaxHours = 72
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	cfg.BreakerEnabled = boolOr(fc.Reliability.BreakerEnabled, true)
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerCooldown = parseDuration(fc.Reliability.BreakerCooldown, 30*time.Second)

	cfg.CoalesceEnabled = boolOr(fc.Reliability.CoalesceEnabled, false)
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 10*time.Second)

	cfg.RateLimitWindow = parseDuration(fc.RateLimit.Window, 60*time.Second)
	cfg.RateLimitCeiling = fc.RateLimit.Ceiling
	if cfg.RateLimitCeiling <= 0 {
		cfg.RateLimitCeiling = 5
	}
	cfg.GlobalRPS = fc.RateLimit.GlobalRPS
	cfg.GlobalBurst = fc.RateLimit.GlobalBurst
	if cfg.GlobalRPS > 0 && cfg.GlobalBurst <= 0 {
		cfg.GlobalBurst = cfg.GlobalRPS * 2
	}

	cfg.HealthUpstreamWindow = parseDuration(fc.Health.UpstreamWindow, 60*time.Second)
	cfg.HealthDegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.HealthDegradedErrorPct <= 0 {
		cfg.HealthDegradedErrorPct = 50
	}
	cfg.OverloadWindow = parseDuration(fc.Health.OverloadWindow, 60*time.Second)
	cfg.OverloadDenials = fc.Health.OverloadDenials
	if cfg.OverloadDenials <= 0 {
		cfg.OverloadDenials = 100
	}

	if fc.Sites.Default != nil {
		cfg.DefaultSite = &Site{
			Name:      fc.Sites.Default.Name,
			Latitude:  fc.Sites.Default.Latitude,
			Longitude: fc.Sites.Default.Longitude,
		}
	}
	for _, w := range fc.Sites.Watch {
		cfg.WatchSites = append(cfg.WatchSites, Site{Name: w.Name, Latitude: w.Latitude, Longitude: w.Longitude})
	}
	cfg.WarmCache = boolOr(fc.Sites.Warm, false)
	cfg.WarmInterval = parseDuration(fc.Sites.WarmInterval, 0)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string, returning defaultVal on empty
// input, parse error, or a non-positive result.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// validate performs post-load checks: backend must be known, the request
// timeout must exceed every provider timeout, horizons must be ordered, and
// configured sites must carry valid coordinates.
func validate(cfg *Config) error {
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
	default:
		return fmt.Errorf("cache backend must be in_memory, memcached, or redis, got %q", cfg.CacheBackend)
	}
	maxProvider := cfg.OpenMeteoTimeout
	for _, t := range []time.Duration{cfg.MetNoTimeout, cfg.GeocodeTimeout, cfg.AstroTimeout} {
		if t > maxProvider {
			maxProvider = t
		}
	}
	if cfg.RequestTimeout <= maxProvider {
		cfg.RequestTimeout = maxProvider + time.Second
	}
	if cfg.DefaultHours > cfg.MaxHours {
		return fmt.Errorf("forecast default_hours (%d) exceeds max_hours (%d)", cfg.DefaultHours, cfg.MaxHours)
	}
	if cfg.DefaultSite != nil {
		if err := validSite(*cfg.DefaultSite); err != nil {
			return fmt.Errorf("sites.default: %w", err)
		}
	}
	for i, s := range cfg.WatchSites {
		if err := validSite(s); err != nil {
			return fmt.Errorf("sites.watch[%d]: %w", i, err)
		}
	}
	return nil
}

func validSite(s Site) error {
	if s.Latitude < -90 || s.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range", s.Latitude)
	}
	if s.Longitude < -180 || s.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range", s.Longitude)
	}
	return nil
}
