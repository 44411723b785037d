package sqlite

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// BreakerState represents the state of the circuit breaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops calling a failing database until a reset timeout has
// passed, then lets a single probe through.
//
//	closed --threshold failures--> open --timeout--> half_open --ok--> closed
//	                                 ^------------------- fail --'
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	threshold    int
	resetTimeout time.Duration
	openedAt     time.Time
	nowFunc      func() time.Time
	logger       *slog.Logger
}

func NewCircuitBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		nowFunc:      time.Now,
		logger:       slog.Default(),
	}
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// allow decides whether a call may proceed, moving open to half_open once
// the reset timeout has elapsed.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.nowFunc().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		return true
	default:
		// A probe is already in flight.
		return false
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.failures = 0
		if cb.state != StateClosed {
			cb.transition(StateClosed)
		}
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.threshold {
		cb.openedAt = cb.nowFunc()
		if cb.state != StateOpen {
			cb.transition(StateOpen)
		}
	}
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	cb.logger.Info("sqlite circuit breaker", "from", cb.state.String(), "to", to.String(), "failures", cb.failures)
	cb.state = to
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
