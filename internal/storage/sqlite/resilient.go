package sqlite

import (
	"context"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

var _ storage.Backend = (*ResilientStore)(nil)

// ResilientStore wraps every method of *Store with CircuitBreaker and
// RetryOnDBLock so transient SQLite errors (database is locked, busy) do not
// surface to the event pipeline.
type ResilientStore struct {
	inner *Store
	cb    *CircuitBreaker
	retry RetryConfig
}

// NewResilient uses a breaker that opens after 5 consecutive failures and
// probes again after 30s.
func NewResilient(inner *Store) *ResilientStore {
	return NewResilientWithBreaker(inner, NewCircuitBreaker(5, 30*time.Second))
}

func NewResilientWithBreaker(inner *Store, cb *CircuitBreaker) *ResilientStore {
	return &ResilientStore{inner: inner, cb: cb, retry: DefaultRetryConfig()}
}

// CircuitBreakerState returns the current state of the circuit breaker as a string.
func (r *ResilientStore) CircuitBreakerState() string {
	return r.cb.State().String()
}

func (r *ResilientStore) do(ctx context.Context, fn func() error) error {
	return r.cb.Execute(func() error {
		return RetryOnDBLock(ctx, r.retry, fn)
	})
}

func (r *ResilientStore) HandleEvent(ctx context.Context, ev core.Event) error {
	return r.do(ctx, func() error { return r.inner.HandleEvent(ctx, ev) })
}

func (r *ResilientStore) LoadReservations(ctx context.Context) ([]core.Reservation, error) {
	var out []core.Reservation
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.LoadReservations(ctx)
		return err
	})
	return out, err
}

func (r *ResilientStore) LoadConflicts(ctx context.Context) ([]core.Conflict, error) {
	var out []core.Conflict
	err := r.do(ctx, func() error {
		var err error
		out, err = r.inner.LoadConflicts(ctx)
		return err
	})
	return out, err
}

func (r *ResilientStore) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.do(ctx, func() error {
		var err error
		n, err = r.inner.PruneExpired(ctx, before)
		return err
	})
	return n, err
}

func (r *ResilientStore) Close() error {
	return r.inner.Close()
}
