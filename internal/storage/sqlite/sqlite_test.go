package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

var t0 = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func lease(id, project, agent string, ttl time.Duration) core.Reservation {
	progress := 40.0
	return core.Reservation{
		ID:          id,
		ProjectID:   project,
		RequesterID: agent,
		Patterns:    []string{"src/**/*.go", "go.mod"},
		Mode:        core.ModeExclusive,
		TTLSeconds:  int(ttl.Seconds()),
		CreatedAt:   t0,
		ExpiresAt:   t0.Add(ttl),
		Metadata:    core.ReservationMetadata{Reason: "refactor", TaskID: "T-7", Progress: &progress},
	}
}

func TestSQLiteReservationLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	r := lease("r1", "proj-a", "agent-1", 5*time.Minute)
	if err := st.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &r}); err != nil {
		t.Fatalf("created: %v", err)
	}
	other := lease("r2", "proj-b", "agent-2", time.Minute)
	if err := st.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &other}); err != nil {
		t.Fatalf("created: %v", err)
	}

	renewed := r
	renewed.RenewCount = 1
	renewed.ExpiresAt = r.ExpiresAt.Add(5 * time.Minute)
	if err := st.HandleEvent(ctx, core.Event{Type: core.EventReservationRenewed, Reservation: &renewed}); err != nil {
		t.Fatalf("renewed: %v", err)
	}

	got, err := st.LoadReservations(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 reservations, got %d", len(got))
	}
	var loaded core.Reservation
	for _, g := range got {
		if g.ID == "r1" {
			loaded = g
		}
	}
	if loaded.RenewCount != 1 || !loaded.ExpiresAt.Equal(renewed.ExpiresAt) {
		t.Fatalf("renewal not persisted: %+v", loaded)
	}
	if len(loaded.Patterns) != 2 || loaded.Metadata.TaskID != "T-7" || loaded.Metadata.Progress == nil || *loaded.Metadata.Progress != 40 {
		t.Fatalf("round trip lost data: %+v", loaded)
	}

	if err := st.HandleEvent(ctx, core.Event{Type: core.EventReservationReleased, Reservation: &r}); err != nil {
		t.Fatalf("released: %v", err)
	}
	got, _ = st.LoadReservations(ctx)
	if len(got) != 1 || got[0].ID != "r2" {
		t.Fatalf("expected only r2 after release, got %+v", got)
	}
}

func TestSQLiteSameIDDifferentProjects(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	a := lease("dup", "proj-a", "agent-1", time.Minute)
	b := lease("dup", "proj-b", "agent-2", time.Minute)
	_ = st.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &a})
	_ = st.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &b})
	_ = st.HandleEvent(ctx, core.Event{Type: core.EventReservationExpired, Reservation: &a})

	got, _ := st.LoadReservations(ctx)
	if len(got) != 1 || got[0].ProjectID != "proj-b" {
		t.Fatalf("expected proj-b lease to survive, got %+v", got)
	}
}

func TestSQLitePruneExpired(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	for _, r := range []core.Reservation{
		lease("short", "p", "a", time.Minute),
		lease("long", "p", "b", time.Hour),
	} {
		r := r
		_ = st.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &r})
	}
	n, err := st.PruneExpired(ctx, t0.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d, want 1", n)
	}
	got, _ := st.LoadReservations(ctx)
	if len(got) != 1 || got[0].ID != "long" {
		t.Fatalf("unexpected survivors: %+v", got)
	}
}

func TestSQLiteConflictUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	c := core.Conflict{
		ID:                  "c1",
		ProjectID:           "p",
		Status:              core.ConflictOpen,
		DetectedAt:          t0,
		RequesterID:         "agent-2",
		ExistingReservation: lease("r1", "p", "agent-1", time.Minute),
		OverlappingPattern:  "src/main.go",
		HeldPattern:         "src/**/*.go",
		Resolutions: []core.ResolutionStrategy{{
			Type:       core.StrategyWait,
			Confidence: 64,
			Params:     core.StrategyParams{EstimatedWait: time.Minute},
			Risks:      []core.Risk{{Severity: core.SeverityLow, Description: "short wait"}},
		}},
	}
	if err := st.HandleEvent(ctx, core.Event{Type: core.EventConflictDetected, Conflict: &c}); err != nil {
		t.Fatalf("detected: %v", err)
	}
	resolved := c
	at := t0.Add(time.Minute)
	resolved.Status = core.ConflictResolved
	resolved.ResolvedAt = &at
	resolved.ResolvedBy = "agent-1"
	if err := st.HandleEvent(ctx, core.Event{Type: core.EventConflictResolved, Conflict: &resolved}); err != nil {
		t.Fatalf("resolved: %v", err)
	}

	if n, _ := st.CountConflicts(ctx, "p", core.ConflictOpen); n != 0 {
		t.Fatalf("expected 0 open, got %d", n)
	}
	if n, _ := st.CountConflicts(ctx, "p", core.ConflictResolved); n != 1 {
		t.Fatalf("expected 1 resolved, got %d", n)
	}
	got, err := st.LoadConflicts(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].ResolvedBy != "agent-1" || got[0].ResolvedAt == nil {
		t.Fatalf("unexpected conflicts: %+v", got)
	}
	if len(got[0].Resolutions) != 1 || got[0].Resolutions[0].Params.EstimatedWait != time.Minute {
		t.Fatalf("resolutions lost: %+v", got[0].Resolutions)
	}
}

func TestSQLiteFileReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "interlock.db")
	ctx := context.Background()
	st, err := New(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r := lease("r1", "p", "a", time.Hour)
	if err := st.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &r}); err != nil {
		t.Fatalf("created: %v", err)
	}
	st.Close()

	st, err = New(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()
	got, _ := st.LoadReservations(ctx)
	if len(got) != 1 || got[0].ID != "r1" {
		t.Fatalf("expected lease to survive reopen, got %+v", got)
	}
}

func TestResilientStoreDelegates(t *testing.T) {
	rs := NewResilient(openTestStore(t))
	ctx := context.Background()
	r := lease("r1", "p", "a", time.Minute)
	if err := rs.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated, Reservation: &r}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, err := rs.LoadReservations(ctx)
	if err != nil || len(got) != 1 {
		t.Fatalf("load: %+v, %v", got, err)
	}
	if err := rs.HandleEvent(ctx, core.Event{Type: core.EventReservationCreated}); err == nil {
		t.Fatal("expected error for event without reservation")
	}
	if rs.CircuitBreakerState() != "closed" {
		t.Fatalf("breaker = %s, want closed", rs.CircuitBreakerState())
	}
}
