// Package ratelimit paces outbound requests with an adaptive token
// bucket coupled to a circuit breaker.
package ratelimit

import (
	"context"
	"sync/atomic"
)

// Circuit breaker states.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Stats is an eventually consistent snapshot of limiter counters.
type Stats struct {
	RequestsTotal     int64        `json:"requests_total"`
	RequestsAllowed   int64        `json:"requests_allowed"`
	RequestsThrottled int64        `json:"requests_throttled"`
	RateLimitHits     int64        `json:"rate_limit_hits"`
	ErrorsTotal       int64        `json:"errors_total"`
	CircuitOpens      int64        `json:"circuit_opens"`
	CurrentRPS        float64      `json:"current_rps"`
	CircuitState      CircuitState `json:"circuit_state"`
}

// Limiter is the pacing plug point. Acquire blocks until a request may
// proceed, honoring ctx; the On* hooks feed outcome signals back in.
type Limiter interface {
	Acquire(ctx context.Context) error
	OnSuccess()
	OnRateLimit()
	OnError()
	Stats() Stats
}

// Null is a limiter that always allows and adapts nothing.
type Null struct {
	total         atomic.Int64
	rateLimitHits atomic.Int64
	errors        atomic.Int64
}

// NewNull creates a Null limiter.
func NewNull() *Null { return &Null{} }

func (n *Null) Acquire(ctx context.Context) error {
	n.total.Add(1)
	return ctx.Err()
}

func (n *Null) OnSuccess() {}

func (n *Null) OnRateLimit() { n.rateLimitHits.Add(1) }

func (n *Null) OnError() { n.errors.Add(1) }

func (n *Null) Stats() Stats {
	total := n.total.Load()
	return Stats{
		RequestsTotal:   total,
		RequestsAllowed: total,
		RateLimitHits:   n.rateLimitHits.Load(),
		ErrorsTotal:     n.errors.Load(),
	}
}
