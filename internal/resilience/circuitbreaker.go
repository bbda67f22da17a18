// Package resilience provides the circuit breaker that guards the speech
// backend.
//
// [CircuitBreaker] is a classic three-state breaker (closed → open →
// half-open). Synchronous callers wrap work in [CircuitBreaker.Execute].
// Callers whose outcome arrives later, such as a speech dispatch that
// completes on an event channel, split the call into [CircuitBreaker.Allow]
// and [CircuitBreaker.Record].
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Allow] and
// [CircuitBreaker.Execute] when the breaker is open and the reset timeout has
// not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; all calls are forwarded.
	StateClosed State = iota

	// StateOpen indicates the breaker has tripped due to consecutive failures.
	// Calls are rejected immediately with [ErrCircuitOpen] until the reset
	// timeout elapses.
	StateOpen

	// StateHalfOpen is the probe state entered after the reset timeout. A limited
	// number of calls are allowed through; if they succeed the breaker closes,
	// otherwise it re-opens.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed in the half-open
	// state to close the breaker. Default: 1.
	HalfOpenMax int

	// Now returns the current time. Defaults to [time.Now].
	Now func() time.Time
}

// Ticket is issued by [CircuitBreaker.Allow] and handed back to
// [CircuitBreaker.Record] with the call's outcome.
type Ticket struct {
	probe bool
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probesInFlight  int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		now:          cfg.Now,
		state:        StateClosed,
	}
}

// Allow reports whether a call may proceed. On success the caller must pass
// the returned ticket to [CircuitBreaker.Record] exactly once.
func (cb *CircuitBreaker) Allow() (Ticket, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return Ticket{}, ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probesInFlight = 0
		cb.probeSuccesses = 0
		slog.Info("circuit breaker transitioning to half-open", "name", cb.name)
		fallthrough
	case StateHalfOpen:
		if cb.probesInFlight+cb.probeSuccesses >= cb.halfOpenMax {
			return Ticket{}, ErrCircuitOpen
		}
		cb.probesInFlight++
		return Ticket{probe: true}, nil
	}
	return Ticket{}, nil
}

// Record reports the outcome of a call admitted by [CircuitBreaker.Allow].
// A nil err counts as success.
func (cb *CircuitBreaker) Record(t Ticket, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if t.probe {
		if cb.probesInFlight > 0 {
			cb.probesInFlight--
		}
		if cb.state != StateHalfOpen {
			// A stale probe from before a Reset or re-open.
			return
		}
		if err != nil {
			cb.tripLocked()
			slog.Warn("circuit breaker re-opened from half-open", "name", cb.name, "err", err)
			return
		}
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.halfOpenMax {
			cb.closeLocked()
			slog.Info("circuit breaker closed after successful probes", "name", cb.name)
		}
		return
	}

	if err == nil {
		cb.consecutiveFail = 0
		return
	}
	if cb.state != StateClosed {
		return
	}
	cb.consecutiveFail++
	if cb.consecutiveFail >= cb.maxFailures {
		cb.tripLocked()
		slog.Warn("circuit breaker opened",
			"name", cb.name,
			"consecutive_failures", cb.consecutiveFail,
			"err", err)
	}
}

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	t, err := cb.Allow()
	if err != nil {
		return err
	}
	err = fn()
	cb.Record(t, err)
	return err
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [Allow] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually forces the breaker back to [StateClosed], clearing all failure
// counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.closeLocked()
	slog.Info("circuit breaker manually reset", "name", cb.name)
}

func (cb *CircuitBreaker) tripLocked() {
	cb.state = StateOpen
	cb.openedAt = cb.now()
	cb.probeSuccesses = 0
}

func (cb *CircuitBreaker) closeLocked() {
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
}
