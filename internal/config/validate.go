package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/serpkit/serpkit/internal/types"
)

var (
	countryRe  = regexp.MustCompile(`^[a-z]{2}$`)
	languageRe = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)
)

// Validate checks every setting against its declared range. It runs at
// startup; nothing past Load sees an out-of-range value.
func Validate(s *Settings) error {
	if s.APIKey == "" {
		return &types.ConfigError{Key: "api_key", Err: errors.New("required, set SERP_API_KEY")}
	}
	if u, err := url.Parse(s.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return &types.ConfigError{Key: "api_base_url", Err: fmt.Errorf("not a valid URL: %q", s.APIBaseURL)}
	}
	if s.Zone == "" {
		return &types.ConfigError{Key: "zone", Err: errors.New("must not be empty")}
	}

	if !countryRe.MatchString(s.DefaultCountry) {
		return &types.ConfigError{Key: "default_country", Err: fmt.Errorf("must be two lowercase letters, got %q", s.DefaultCountry)}
	}
	if !languageRe.MatchString(s.DefaultLanguage) {
		return &types.ConfigError{Key: "default_language", Err: fmt.Errorf("must match xx or xx-yy, got %q", s.DefaultLanguage)}
	}
	if s.DefaultMaxPages < 1 || s.DefaultMaxPages > 100 {
		return &types.ConfigError{Key: "default_max_pages", Err: fmt.Errorf("must be 1-100, got %d", s.DefaultMaxPages)}
	}
	if s.DefaultConcurrency < 1 || s.DefaultConcurrency > 200 {
		return &types.ConfigError{Key: "default_concurrency", Err: fmt.Errorf("must be 1-200, got %d", s.DefaultConcurrency)}
	}

	if s.PollIntervalSeconds < 0.5 || s.PollIntervalSeconds > 10 {
		return &types.ConfigError{Key: "poll_interval", Err: fmt.Errorf("must be 0.5-10 seconds, got %g", s.PollIntervalSeconds)}
	}
	if s.MaxPolls < 1 || s.MaxPolls > 100 {
		return &types.ConfigError{Key: "max_polls", Err: fmt.Errorf("must be 1-100, got %d", s.MaxPolls)}
	}
	if s.RequestTimeoutSeconds < 5 || s.RequestTimeoutSeconds > 120 {
		return &types.ConfigError{Key: "request_timeout", Err: fmt.Errorf("must be 5-120 seconds, got %g", s.RequestTimeoutSeconds)}
	}

	if s.MaxRetries < 0 || s.MaxRetries > 10 {
		return &types.ConfigError{Key: "max_retries", Err: fmt.Errorf("must be 0-10, got %d", s.MaxRetries)}
	}
	if s.RetryBackoff < 1 || s.RetryBackoff > 5 {
		return &types.ConfigError{Key: "retry_backoff", Err: fmt.Errorf("must be 1-5, got %g", s.RetryBackoff)}
	}

	if s.RateLimitRPS < 0.1 || s.RateLimitRPS > 50 {
		return &types.ConfigError{Key: "rate_limit_rps", Err: fmt.Errorf("must be 0.1-50, got %g", s.RateLimitRPS)}
	}
	if s.RateLimitBurst < 1 || s.RateLimitBurst > 100 {
		return &types.ConfigError{Key: "rate_limit_burst", Err: fmt.Errorf("must be 1-100, got %d", s.RateLimitBurst)}
	}

	if s.CacheTTLSeconds < 0 || s.CacheTTLSeconds > 86400 {
		return &types.ConfigError{Key: "cache_ttl", Err: fmt.Errorf("must be 0-86400 seconds, got %d", s.CacheTTLSeconds)}
	}
	switch s.CacheBackend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if s.RedisURL == "" {
			return &types.ConfigError{Key: "redis_url", Err: errors.New("required when cache_backend=redis")}
		}
	default:
		return &types.ConfigError{Key: "cache_backend", Err: fmt.Errorf("must be %q or %q, got %q", CacheBackendMemory, CacheBackendRedis, s.CacheBackend)}
	}

	if s.ConsecutiveEmptyLimit < 1 || s.ConsecutiveEmptyLimit > 10 {
		return &types.ConfigError{Key: "consecutive_empty_limit", Err: fmt.Errorf("must be 1-10, got %d", s.ConsecutiveEmptyLimit)}
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return &types.ConfigError{Key: "log_level", Err: fmt.Errorf("must be debug/info/warn/error, got %q", s.LogLevel)}
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		return &types.ConfigError{Key: "log_format", Err: fmt.Errorf("must be 'text' or 'json', got %q", s.LogFormat)}
	}

	return nil
}
