package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/serpkit/serpkit/internal/types"
)

// Adaptive defaults.
const (
	DefaultInitialRPS       = 5.0
	DefaultMinRPS           = 0.5
	DefaultMaxRPS           = 20.0
	DefaultBurstSize        = 10
	DefaultErrorThreshold   = 5
	DefaultRecoveryTimeout  = 30 * time.Second
	DefaultSuccessThreshold = 3
)

// AdaptiveConfig tunes an Adaptive limiter. Zero values fall back to
// the defaults above.
type AdaptiveConfig struct {
	InitialRPS       float64
	MinRPS           float64
	MaxRPS           float64
	BurstSize        int
	ErrorThreshold   int
	RecoveryTimeout  time.Duration
	SuccessThreshold int
}

func (c AdaptiveConfig) withDefaults() AdaptiveConfig {
	if c.InitialRPS <= 0 {
		c.InitialRPS = DefaultInitialRPS
	}
	if c.MinRPS <= 0 {
		c.MinRPS = DefaultMinRPS
	}
	if c.MaxRPS <= 0 {
		c.MaxRPS = DefaultMaxRPS
	}
	if c.BurstSize < 1 {
		c.BurstSize = DefaultBurstSize
	}
	if c.ErrorThreshold < 1 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = DefaultRecoveryTimeout
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = DefaultSuccessThreshold
	}
	return c
}

// Adaptive is a token-bucket limiter that reshapes its rate from
// request outcomes and fails fast through a circuit breaker when the
// upstream is persistently unhealthy.
//
// Rate adaptation: x1.1 per success (capped at MaxRPS), x0.5 on a 429,
// x0.8 on any other error (floored at MinRPS).
type Adaptive struct {
	cfg AdaptiveConfig

	mu         sync.Mutex
	currentRPS float64
	tokens     float64
	lastUpdate time.Time

	circuit              CircuitState
	consecutiveErrors    int
	consecutiveSuccesses int
	openedAt             time.Time

	stats Stats

	// Injected for tests; time.Now and a timer-based sleep otherwise.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAdaptive creates an Adaptive limiter with a full bucket.
func NewAdaptive(cfg AdaptiveConfig) *Adaptive {
	cfg = cfg.withDefaults()
	a := &Adaptive{
		cfg:        cfg,
		currentRPS: cfg.InitialRPS,
		tokens:     float64(cfg.BurstSize),
		now:        time.Now,
		sleep:      sleepCtx,
	}
	a.lastUpdate = a.now()
	return a
}

// Acquire blocks until a token is available or ctx fires. It returns a
// CircuitOpenError without waiting while the breaker is open.
//
// The token wait is held under the limiter lock, so concurrent callers
// drain the bucket strictly one at a time; that serialization is what
// enforces the rate.
func (a *Adaptive) Acquire(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.RequestsTotal++

	if a.circuit == CircuitOpen {
		since := a.now().Sub(a.openedAt)
		if since > a.cfg.RecoveryTimeout {
			a.circuit = CircuitHalfOpen
			a.consecutiveSuccesses = 0
		} else {
			a.stats.RequestsThrottled++
			return &types.CircuitOpenError{RetryIn: a.cfg.RecoveryTimeout - since}
		}
	}

	now := a.now()
	elapsed := now.Sub(a.lastUpdate).Seconds()
	a.tokens = min(float64(a.cfg.BurstSize), a.tokens+elapsed*a.currentRPS)
	a.lastUpdate = now

	if a.tokens >= 1.0 {
		a.tokens -= 1.0
		a.stats.RequestsAllowed++
		return nil
	}

	wait := time.Duration((1.0 - a.tokens) / a.currentRPS * float64(time.Second))
	a.stats.RequestsThrottled++
	if err := a.sleep(ctx, wait); err != nil {
		return err
	}
	a.tokens = 0
	a.lastUpdate = a.now()
	a.stats.RequestsAllowed++
	return nil
}

// OnSuccess feeds back a 200: errors reset, rate creeps up, and enough
// half-open successes close the circuit.
func (a *Adaptive) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.consecutiveErrors = 0
	a.consecutiveSuccesses++

	if a.circuit == CircuitHalfOpen && a.consecutiveSuccesses >= a.cfg.SuccessThreshold {
		a.circuit = CircuitClosed
		a.consecutiveSuccesses = 0
	}

	a.currentRPS = min(a.cfg.MaxRPS, a.currentRPS*1.1)
}

// OnRateLimit feeds back an upstream 429: the rate halves immediately.
func (a *Adaptive) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.RateLimitHits++
	a.consecutiveErrors++
	a.currentRPS = max(a.cfg.MinRPS, a.currentRPS*0.5)
	a.checkCircuitLocked()
}

// OnError feeds back a non-429 failure. An error during a half-open
// probe reopens the circuit immediately.
func (a *Adaptive) OnError() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stats.ErrorsTotal++
	a.consecutiveErrors++
	a.consecutiveSuccesses = 0
	a.currentRPS = max(a.cfg.MinRPS, a.currentRPS*0.8)

	if a.circuit == CircuitHalfOpen {
		a.openLocked()
		return
	}
	a.checkCircuitLocked()
}

// CurrentRPS returns the present adapted rate.
func (a *Adaptive) CurrentRPS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRPS
}

// Circuit returns the present breaker state.
func (a *Adaptive) Circuit() CircuitState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.circuit
}

func (a *Adaptive) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.stats
	s.CurrentRPS = a.currentRPS
	s.CircuitState = a.circuit
	return s
}

// checkCircuitLocked opens the breaker once consecutive errors reach
// the threshold. Caller holds mu.
func (a *Adaptive) checkCircuitLocked() {
	if a.consecutiveErrors >= a.cfg.ErrorThreshold && a.circuit != CircuitOpen {
		a.openLocked()
	}
}

func (a *Adaptive) openLocked() {
	a.circuit = CircuitOpen
	a.openedAt = a.now()
	a.stats.CircuitOpens++
}

// sleepCtx sleeps for d or until ctx fires, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
