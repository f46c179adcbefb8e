package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Cache backend identifiers.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// Settings is the full engine configuration. Keys map one-to-one to
// environment variables with the SERP_ prefix (SERP_API_KEY,
// SERP_DEFAULT_MAX_PAGES, ...). Durations configured as seconds are
// kept as numeric fields to match the environment contract; use the
// accessor methods for time.Duration values.
type Settings struct {
	// Upstream API
	APIKey     string `mapstructure:"api_key"      yaml:"api_key"`
	Zone       string `mapstructure:"zone"         yaml:"zone"`
	APIBaseURL string `mapstructure:"api_base_url" yaml:"api_base_url"`

	// Search defaults
	DefaultCountry     string `mapstructure:"default_country"     yaml:"default_country"`
	DefaultLanguage    string `mapstructure:"default_language"    yaml:"default_language"`
	DefaultMaxPages    int    `mapstructure:"default_max_pages"   yaml:"default_max_pages"`
	DefaultConcurrency int    `mapstructure:"default_concurrency" yaml:"default_concurrency"`

	// Upstream polling
	PollIntervalSeconds   float64 `mapstructure:"poll_interval"   yaml:"poll_interval"`
	MaxPolls              int     `mapstructure:"max_polls"       yaml:"max_polls"`
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout" yaml:"request_timeout"`

	// Transport retries
	MaxRetries   int     `mapstructure:"max_retries"   yaml:"max_retries"`
	RetryBackoff float64 `mapstructure:"retry_backoff" yaml:"retry_backoff"`

	// Rate limiting
	RateLimitEnabled bool    `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"     yaml:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"   yaml:"rate_limit_burst"`

	// Caching
	CacheEnabled    bool   `mapstructure:"cache_enabled" yaml:"cache_enabled"`
	CacheTTLSeconds int    `mapstructure:"cache_ttl"     yaml:"cache_ttl"`
	CacheBackend    string `mapstructure:"cache_backend" yaml:"cache_backend"`
	RedisURL        string `mapstructure:"redis_url"     yaml:"redis_url"`

	// Early termination
	ConsecutiveEmptyLimit int `mapstructure:"consecutive_empty_limit" yaml:"consecutive_empty_limit"`

	// Logging
	LogLevel  string `mapstructure:"log_level"  yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
}

// DefaultSettings returns Settings with the documented defaults.
// APIKey has no default and must be provided.
func DefaultSettings() *Settings {
	return &Settings{
		Zone:                  "serp_api1",
		APIBaseURL:            "https://api.brightdata.com",
		DefaultCountry:        "us",
		DefaultLanguage:       "en",
		DefaultMaxPages:       25,
		DefaultConcurrency:    50,
		PollIntervalSeconds:   2.0,
		MaxPolls:              20,
		RequestTimeoutSeconds: 30.0,
		MaxRetries:            3,
		RetryBackoff:          2.0,
		RateLimitEnabled:      true,
		RateLimitRPS:          5.0,
		RateLimitBurst:        10,
		CacheEnabled:          true,
		CacheTTLSeconds:       3600,
		CacheBackend:          CacheBackendMemory,
		ConsecutiveEmptyLimit: 3,
		LogLevel:              "info",
		LogFormat:             "text",
	}
}

// PollInterval returns the phase-B polling cadence.
func (s *Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds * float64(time.Second))
}

// RequestTimeout returns the per-HTTP-call deadline.
func (s *Settings) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds * float64(time.Second))
}

// CacheTTL returns the result cache TTL. Zero disables expiry.
func (s *Settings) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// MaxPollTime returns the total polling budget for one page fetch.
func (s *Settings) MaxPollTime() time.Duration {
	return time.Duration(float64(s.MaxPolls) * s.PollIntervalSeconds * float64(time.Second))
}
