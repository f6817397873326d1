package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	WeatherAPIKey      string
	ForecastPrimaryURL string
	ForecastLegacyURL  string
	ForecastTimeout    time.Duration
	GeocodeURL         string
	GeocodeTimeout     time.Duration
	ReverseDebounce    time.Duration

	RequestTimeout time.Duration

	CacheTTL     time.Duration
	CacheBackend string // "in_memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled     bool
	CircuitBreakerMaxRequests int
	CircuitBreakerInterval    time.Duration
	CircuitBreakerTimeout     time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	QueryMinLength int
	QueryMaxLength int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	WarmCache     bool
	WarmInterval  time.Duration
	WarmUnits     string
	TrackedPlaces []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Forecast struct {
		PrimaryURL string `yaml:"primary_url"`
		LegacyURL  string `yaml:"legacy_url"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"forecast"`

	Geocode struct {
		URL             string `yaml:"url"`
		Timeout         string `yaml:"timeout"`
		ReverseDebounce string `yaml:"reverse_debounce"`
	} `yaml:"geocode"`

	Request struct {
		Timeout        string `yaml:"timeout"`
		QueryMinLength int    `yaml:"query_min_length"`
		QueryMaxLength int    `yaml:"query_max_length"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Warm struct {
			Enabled  bool     `yaml:"enabled"`
			Interval string   `yaml:"interval"`
			Units    string   `yaml:"units"`
			Places   []string `yaml:"places"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		CoalesceEnabled    bool   `yaml:"coalesce_enabled"`
		CoalesceTimeout    string `yaml:"coalesce_timeout"`
		BreakerEnabled     bool   `yaml:"breaker_enabled"`
		BreakerMaxRequests int    `yaml:"breaker_max_requests"`
		BreakerInterval    string `yaml:"breaker_interval"`
		BreakerTimeout     string `yaml:"breaker_timeout"`
		RateLimitRPS       int    `yaml:"rate_limit_rps"`
		RateLimitBurst     int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// API key comes from WEATHER_API_KEY env or secrets file. Call from project root.
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

	cfg.WeatherAPIKey = os.Getenv("WEATHER_API_KEY")
	if cfg.WeatherAPIKey == "" {
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
			cfg.WeatherAPIKey = sec.WeatherAPIKey
		}
	}
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env or config/secrets.yaml weather_api_key)")
	}

	cfg.ForecastPrimaryURL = fc.Forecast.PrimaryURL
	if cfg.ForecastPrimaryURL == "" {
		cfg.ForecastPrimaryURL = "https://api.openweathermap.org/data/3.0/onecall"
	}
	cfg.ForecastLegacyURL = fc.Forecast.LegacyURL
	if cfg.ForecastLegacyURL == "" {
		cfg.ForecastLegacyURL = "https://api.openweathermap.org/data/2.5/onecall"
	}
	cfg.ForecastTimeout = parseDuration(fc.Forecast.Timeout, 2*time.Second)

	cfg.GeocodeURL = fc.Geocode.URL
	if cfg.GeocodeURL == "" {
		cfg.GeocodeURL = "https://api.openweathermap.org/geo/1.0"
	}
	cfg.GeocodeTimeout = parseDuration(fc.Geocode.Timeout, 2*time.Second)
	cfg.ReverseDebounce = parseDurationOrZero(fc.Geocode.ReverseDebounce, 300*time.Millisecond)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.QueryMinLength = fc.Request.QueryMinLength
	if cfg.QueryMinLength <= 0 {
		cfg.QueryMinLength = 2
	}
	cfg.QueryMaxLength = fc.Request.QueryMaxLength
	if cfg.QueryMaxLength <= 0 {
		cfg.QueryMaxLength = 100
	}

	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS"))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = strings.TrimSpace(fc.Cache.Memcached.Addrs)
	}
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.WarmCache = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)
	cfg.WarmUnits = strings.TrimSpace(strings.ToLower(fc.Cache.Warm.Units))
	if cfg.WarmUnits == "" {
		cfg.WarmUnits = "metric"
	}
	cfg.TrackedPlaces = fc.Cache.Warm.Places

	cfg.CoalesceEnabled = fc.Reliability.CoalesceEnabled
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 5*time.Second)
	cfg.CircuitBreakerEnabled = fc.Reliability.BreakerEnabled
	cfg.CircuitBreakerMaxRequests = fc.Reliability.BreakerMaxRequests
	if cfg.CircuitBreakerMaxRequests <= 0 {
		cfg.CircuitBreakerMaxRequests = 5
	}
	cfg.CircuitBreakerInterval = parseDuration(fc.Reliability.BreakerInterval, time.Minute)
	cfg.CircuitBreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 2*time.Minute)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// Ensures upstream timeouts are positive, RequestTimeout exceeds them, query
// length bounds are ordered, and CacheBackend is a valid value.
func validate(cfg *Config) error {
	if cfg.ForecastTimeout <= 0 {
		return fmt.Errorf("forecast.timeout must be positive")
	}
	if cfg.GeocodeTimeout <= 0 {
		return fmt.Errorf("geocode.timeout must be positive")
	}
	upstream := cfg.ForecastTimeout
	if cfg.GeocodeTimeout > upstream {
		upstream = cfg.GeocodeTimeout
	}
	if cfg.RequestTimeout <= upstream {
		cfg.RequestTimeout = upstream + time.Second
	}
	if cfg.QueryMinLength > cfg.QueryMaxLength {
		return fmt.Errorf("request.query_min_length %d exceeds query_max_length %d", cfg.QueryMinLength, cfg.QueryMaxLength)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	switch cfg.WarmUnits {
	case "metric", "imperial":
		// valid
	default:
		return fmt.Errorf("cache.warm.units must be metric or imperial, got %q", cfg.WarmUnits)
	}
	return nil
}
