// Package conflict keeps the audit trail of denied reservation grants.
//
// A Conflict is opened once per distinct pre-existing reservation that
// blocked a request and moves to resolved exactly once. There is no other
// transition.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mistakeknot/interlock/internal/core"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// RequestContext identifies the request that was denied. Conflicts recorded
// with the same RequestID against the same existing reservation collapse
// into one.
type RequestContext struct {
	RequestID   string
	ProjectID   string
	RequesterID string
	Mode        core.Mode
	Patterns    []string
	Priority    *core.Priority
}

// Page selects a window of a newest-first listing.
type Page struct {
	Cursor string
	Limit  int
}

// ListResult is one page of conflicts.
type ListResult struct {
	Conflicts  []core.Conflict
	NextCursor string
}

type record struct {
	seq      uint64
	conflict core.Conflict
}

// Tracker records conflicts and their resolution.
type Tracker struct {
	mu        sync.RWMutex
	seq       uint64
	byID      map[string]*record
	byProject map[string][]*record // ascending seq
	pending   map[string]map[string]string // requestID -> reservationID -> conflictID

	now      func() time.Time
	newID    func() string
	handlers []core.EventHandler
	logger   *slog.Logger
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithIDFunc(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

func WithHandler(h core.EventHandler) Option {
	return func(t *Tracker) { t.handlers = append(t.handlers, h) }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		byID:      make(map[string]*record),
		byProject: make(map[string][]*record),
		pending:   make(map[string]map[string]string),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers a handler for conflict events.
func (t *Tracker) Subscribe(h core.EventHandler) {
	t.mu.Lock()
	t.handlers = append(t.handlers, h)
	t.mu.Unlock()
}

// Record opens a conflict between the request and an existing reservation.
// The second return value is false when the same request already produced a
// conflict against that reservation; the earlier conflict is returned.
// Callers end the request with EndRequest once every pair is recorded.
func (t *Tracker) Record(rc RequestContext, existing core.Reservation, overlappingPattern, heldPattern string) (core.Conflict, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rc.RequestID != "" {
		if id, ok := t.pending[rc.RequestID][existing.ID]; ok {
			return t.byID[id].conflict.Clone(), false
		}
	}

	t.seq++
	c := core.Conflict{
		ID:                  t.newID(),
		ProjectID:           rc.ProjectID,
		Status:              core.ConflictOpen,
		DetectedAt:          t.now(),
		RequesterID:         rc.RequesterID,
		RequestedMode:       rc.Mode,
		RequestedPatterns:   append([]string(nil), rc.Patterns...),
		RequesterPriority:   rc.Priority,
		ExistingReservation: existing.Clone(),
		OverlappingPattern:  overlappingPattern,
		HeldPattern:         heldPattern,
	}
	rec := &record{seq: t.seq, conflict: c}
	t.byID[c.ID] = rec
	t.byProject[c.ProjectID] = append(t.byProject[c.ProjectID], rec)
	if rc.RequestID != "" {
		seen := t.pending[rc.RequestID]
		if seen == nil {
			seen = make(map[string]string)
			t.pending[rc.RequestID] = seen
		}
		seen[existing.ID] = c.ID
	}
	return c.Clone(), true
}

// EndRequest drops the deduplication state of a request.
func (t *Tracker) EndRequest(requestID string) {
	t.mu.Lock()
	delete(t.pending, requestID)
	t.mu.Unlock()
}

// pendingRequests is the number of requests still holding dedup state.
func (t *Tracker) pendingRequests() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// AttachResolutions stores the advisor output on an open conflict and
// publishes it as detected.
func (t *Tracker) AttachResolutions(ctx context.Context, id string, strategies []core.ResolutionStrategy) (core.Conflict, error) {
	t.mu.Lock()
	rec, ok := t.byID[id]
	if !ok {
		t.mu.Unlock()
		return core.Conflict{}, fmt.Errorf("conflict %s: %w", id, core.ErrNotFound)
	}
	rec.conflict.Resolutions = make([]core.ResolutionStrategy, len(strategies))
	for i, s := range strategies {
		rec.conflict.Resolutions[i] = s.Clone()
	}
	out := rec.conflict.Clone()
	handlers := t.handlers
	t.mu.Unlock()

	t.emit(ctx, handlers, core.Event{Type: core.EventConflictDetected, ProjectID: out.ProjectID, Conflict: &out, CreatedAt: out.DetectedAt})
	return out, nil
}

// Get returns a conflict by id.
func (t *Tracker) Get(id string) (core.Conflict, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.byID[id]
	if !ok {
		return core.Conflict{}, fmt.Errorf("conflict %s: %w", id, core.ErrNotFound)
	}
	return rec.conflict.Clone(), nil
}

// Resolve moves an open conflict to resolved. Unknown ids and ids that are
// already resolved both fail with core.ErrNotFound; a resolved conflict is
// never re-stamped.
func (t *Tracker) Resolve(ctx context.Context, id, resolvedBy, reason string) (core.Conflict, error) {
	t.mu.Lock()
	rec, ok := t.byID[id]
	if !ok || rec.conflict.Status != core.ConflictOpen {
		t.mu.Unlock()
		return core.Conflict{}, fmt.Errorf("open conflict %s: %w", id, core.ErrNotFound)
	}
	now := t.now()
	rec.conflict.Status = core.ConflictResolved
	rec.conflict.ResolvedAt = &now
	rec.conflict.ResolvedBy = resolvedBy
	rec.conflict.ResolutionReason = reason
	out := rec.conflict.Clone()
	handlers := t.handlers
	t.mu.Unlock()

	t.emit(ctx, handlers, core.Event{Type: core.EventConflictResolved, ProjectID: out.ProjectID, Conflict: &out, CreatedAt: now})
	return out, nil
}

// List returns conflicts of a project newest first. An empty status returns
// both open and resolved conflicts. The cursor is opaque to callers.
func (t *Tracker) List(projectID string, status core.ConflictStatus, page Page) (ListResult, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	before := uint64(0)
	if page.Cursor != "" {
		v, err := strconv.ParseUint(page.Cursor, 10, 64)
		if err != nil {
			return ListResult{}, core.Invalid("cursor", "malformed cursor %q", page.Cursor)
		}
		before = v
	}
	if status != "" && status != core.ConflictOpen && status != core.ConflictResolved {
		return ListResult{}, core.Invalid("status", "unknown status %q", status)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	recs := t.byProject[projectID]
	var out ListResult
	var lastSeq uint64
	for i := len(recs) - 1; i >= 0; i-- {
		rec := recs[i]
		if before != 0 && rec.seq >= before {
			continue
		}
		if status != "" && rec.conflict.Status != status {
			continue
		}
		if len(out.Conflicts) == limit {
			out.NextCursor = strconv.FormatUint(lastSeq, 10)
			break
		}
		out.Conflicts = append(out.Conflicts, rec.conflict.Clone())
		lastSeq = rec.seq
	}
	return out, nil
}

// Counts returns open and resolved totals per project.
func (t *Tracker) Counts() map[string]map[core.ConflictStatus]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]map[core.ConflictStatus]int, len(t.byProject))
	for p, recs := range t.byProject {
		m := map[core.ConflictStatus]int{}
		for _, rec := range recs {
			m[rec.conflict.Status]++
		}
		out[p] = m
	}
	return out
}

// Restore loads previously persisted conflicts, oldest first. Existing ids
// are skipped.
func (t *Tracker) Restore(conflicts []core.Conflict) int {
	sorted := append([]core.Conflict(nil), conflicts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].DetectedAt.Before(sorted[j].DetectedAt) })

	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range sorted {
		if _, ok := t.byID[c.ID]; ok || c.ID == "" {
			continue
		}
		t.seq++
		rec := &record{seq: t.seq, conflict: c.Clone()}
		t.byID[c.ID] = rec
		t.byProject[c.ProjectID] = append(t.byProject[c.ProjectID], rec)
		n++
	}
	return n
}

func (t *Tracker) emit(ctx context.Context, handlers []core.EventHandler, ev core.Event) {
	for _, h := range handlers {
		if err := h.HandleEvent(ctx, ev); err != nil {
			t.logger.Warn("conflict event handler failed", "event", ev.Type, "conflict_id", ev.Conflict.ID, "error", err)
		}
	}
}
