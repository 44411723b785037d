// Package storage defines how committed reservation and conflict state is
// persisted and reloaded. Backends receive events only after the store has
// committed a mutation, so persistence never runs inside a shard lock.
package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/mistakeknot/interlock/internal/core"
)

// Sink consumes committed events.
type Sink interface {
	core.EventHandler
	Close() error
}

// Loader returns persisted state for startup restore.
type Loader interface {
	LoadReservations(ctx context.Context) ([]core.Reservation, error)
	LoadConflicts(ctx context.Context) ([]core.Conflict, error)
}

// Backend is a durable sink that can also restore.
type Backend interface {
	Sink
	Loader
}

// Recorder is an in-memory Backend for tests and the memory driver. It
// keeps the latest state of every reservation and conflict plus the raw
// event log.
type Recorder struct {
	mu           sync.Mutex
	events       []core.Event
	reservations map[string]core.Reservation
	conflicts    map[string]core.Conflict
}

func NewRecorder() *Recorder {
	return &Recorder{
		reservations: make(map[string]core.Reservation),
		conflicts:    make(map[string]core.Conflict),
	}
}

func (r *Recorder) HandleEvent(_ context.Context, ev core.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	switch ev.Type {
	case core.EventReservationCreated, core.EventReservationRenewed:
		if ev.Reservation != nil {
			r.reservations[ev.Reservation.ID] = ev.Reservation.Clone()
		}
	case core.EventReservationReleased, core.EventReservationExpired:
		if ev.Reservation != nil {
			delete(r.reservations, ev.Reservation.ID)
		}
	case core.EventConflictDetected, core.EventConflictResolved:
		if ev.Conflict != nil {
			r.conflicts[ev.Conflict.ID] = ev.Conflict.Clone()
		}
	}
	return nil
}

// Events returns a copy of every event seen so far.
func (r *Recorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Event(nil), r.events...)
}

func (r *Recorder) LoadReservations(context.Context) ([]core.Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Reservation, 0, len(r.reservations))
	for _, res := range r.reservations {
		out = append(out, res.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *Recorder) LoadConflicts(context.Context) ([]core.Conflict, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Conflict, 0, len(r.conflicts))
	for _, c := range r.conflicts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (r *Recorder) Close() error { return nil }
