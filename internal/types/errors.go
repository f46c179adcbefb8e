package types

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure modes.
var (
	ErrNotConnected = errors.New("client not connected: call Connect first")
	ErrCacheMiss    = errors.New("cache miss")
	ErrEmptyQuery   = errors.New("query must not be empty")
)

// ConfigError reports a missing or invalid setting detected at startup.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error (%s): %v", e.Key, e.Err)
	}
	return fmt.Sprintf("config error: %v", e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError reports bad input to a public method. It carries the
// offending field and value so callers can surface both.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s=%v: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// APIError reports a malformed or non-retryable upstream response.
type APIError struct {
	Message    string
	StatusCode int
	ResponseID string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// TimeoutError reports an expired HTTP deadline or an exhausted polling
// budget.
type TimeoutError struct {
	Message    string
	ResponseID string
	Elapsed    time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Elapsed > 0 {
		return fmt.Sprintf("timeout after %s: %s", e.Elapsed, e.Message)
	}
	return fmt.Sprintf("timeout: %s", e.Message)
}

// RateLimitError reports an upstream 429 on submit or poll.
type RateLimitError struct {
	Message    string
	ResponseID string
	RetryAfter time.Duration // zero when the upstream sent no Retry-After
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

// CacheError reports a cache failure an implementation chose to surface.
// Remote-backend transport failures degrade to a miss and never produce one.
type CacheError struct {
	Backend string
	Err     error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error (%s): %v", e.Backend, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// CircuitOpenError reports that the rate limiter refused a request
// because its circuit breaker is open.
type CircuitOpenError struct {
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("circuit breaker open (retry in %s)", e.RetryIn)
	}
	return "circuit breaker open"
}
