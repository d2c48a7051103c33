package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string

	GeocodingURL     string
	ForecastURL      string
	ArchiveURL       string
	OpenMeteoTimeout time.Duration
	ArchiveTimeout   time.Duration

	RequestTimeout time.Duration

	CacheBackend  string // "in_memory" or "memcached"
	GeocodeTTL    time.Duration
	CurrentTTL    time.Duration
	HistoricalTTL time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	BaselineYears    int
	AnomalyThreshold float64
	CityMinLength    int
	CityMaxLength    int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	ShutdownTimeout         time.Duration
	ShutdownInFlightTimeout time.Duration
	ShutdownCheckInterval   time.Duration

	TrackedCities []string
	WarmInterval  time.Duration
	WarmTimeout   time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	OpenMeteo struct {
		GeocodingURL   string `yaml:"geocoding_url"`
		ForecastURL    string `yaml:"forecast_url"`
		ArchiveURL     string `yaml:"archive_url"`
		Timeout        string `yaml:"timeout"`
		ArchiveTimeout string `yaml:"archive_timeout"`
	} `yaml:"open_meteo"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend       string `yaml:"backend"`
		GeocodeTTL    string `yaml:"geocode_ttl"`
		CurrentTTL    string `yaml:"current_ttl"`
		HistoricalTTL string `yaml:"historical_ttl"`
		Memcached     struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Analysis struct {
		BaselineYears    int     `yaml:"baseline_years"`
		AnomalyThreshold float64 `yaml:"anomaly_threshold"`
		CityMinLength    int     `yaml:"city_min_length"`
		CityMaxLength    int     `yaml:"city_max_length"`
	} `yaml:"analysis"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CoalesceEnabled  *bool  `yaml:"coalesce_enabled"`
		CoalesceTimeout  string `yaml:"coalesce_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"in_flight_timeout"`
		CheckInterval   string `yaml:"check_interval"`
	} `yaml:"shutdown"`

	Warming struct {
		TrackedCities []string `yaml:"tracked_cities"`
		Interval      string   `yaml:"interval"`
		JobTimeout    string   `yaml:"job_timeout"`
	} `yaml:"warming"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev), with
// env overrides for cache settings. A .env file in the working directory is
// loaded first if present. Call from project root.
func Load() (*Config, error) {
	// .env is optional; real env vars win over it.
	_ = godotenv.Load()

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

	cfg.GeocodingURL = fc.OpenMeteo.GeocodingURL
	if cfg.GeocodingURL == "" {
		cfg.GeocodingURL = "https://geocoding-api.open-meteo.com/v1/search"
	}
	cfg.ForecastURL = fc.OpenMeteo.ForecastURL
	if cfg.ForecastURL == "" {
		cfg.ForecastURL = "https://api.open-meteo.com/v1/forecast"
	}
	cfg.ArchiveURL = fc.OpenMeteo.ArchiveURL
	if cfg.ArchiveURL == "" {
		cfg.ArchiveURL = "https://archive-api.open-meteo.com/v1/era5"
	}
	cfg.OpenMeteoTimeout = parseDurationOrZero(fc.OpenMeteo.Timeout, 10*time.Second)
	cfg.ArchiveTimeout = parseDuration(fc.OpenMeteo.ArchiveTimeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 45*time.Second)

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.GeocodeTTL = parseDuration(fc.Cache.GeocodeTTL, 24*time.Hour)
	cfg.CurrentTTL = parseDuration(fc.Cache.CurrentTTL, time.Hour)
	cfg.HistoricalTTL = parseDuration(fc.Cache.HistoricalTTL, 24*time.Hour)

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

	cfg.BaselineYears = fc.Analysis.BaselineYears
	if cfg.BaselineYears <= 0 {
		cfg.BaselineYears = 10
	}
	cfg.AnomalyThreshold = fc.Analysis.AnomalyThreshold
	if cfg.AnomalyThreshold <= 0 {
		cfg.AnomalyThreshold = 2.0
	}
	cfg.CityMinLength = fc.Analysis.CityMinLength
	if cfg.CityMinLength <= 0 {
		cfg.CityMinLength = 2
	}
	cfg.CityMaxLength = fc.Analysis.CityMaxLength
	if cfg.CityMaxLength <= 0 {
		cfg.CityMaxLength = 100
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.CoalesceEnabled = true
	if fc.Reliability.CoalesceEnabled != nil {
		cfg.CoalesceEnabled = *fc.Reliability.CoalesceEnabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Reliability.CoalesceTimeout, 60*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownCheckInterval = parseDuration(fc.Shutdown.CheckInterval, 100*time.Millisecond)

	cfg.TrackedCities = fc.Warming.TrackedCities
	cfg.WarmInterval = parseDuration(fc.Warming.Interval, 30*time.Minute)
	cfg.WarmTimeout = parseDuration(fc.Warming.JobTimeout, 5*time.Minute)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
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

// validate performs post-load validation of configuration values. The request
// timeout is auto-adjusted to exceed the archive timeout: a ten-year hourly
// query is the slowest call a request can make.
func validate(cfg *Config) error {
	if cfg.OpenMeteoTimeout <= 0 {
		return fmt.Errorf("open_meteo.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ArchiveTimeout {
		cfg.RequestTimeout = cfg.ArchiveTimeout + 5*time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.CityMaxLength <= cfg.CityMinLength {
		return fmt.Errorf("analysis.city_max_length (%d) must exceed city_min_length (%d)", cfg.CityMaxLength, cfg.CityMinLength)
	}
	return nil
}
