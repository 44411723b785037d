package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/advisor"
	httpapi "github.com/mistakeknot/interlock/internal/http"
	"github.com/mistakeknot/interlock/internal/reservation"
	"github.com/mistakeknot/interlock/internal/ws"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := ws.NewHub(nil)
	st := reservation.New(
		reservation.WithAdvisor(advisor.New(advisor.DefaultConfig())),
		reservation.WithHandler(hub),
	)
	st.Tracker().Subscribe(hub)
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.NewService(st), hub.Handler(), nil))
	t.Cleanup(srv.Close)
	return srv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestClientWithoutServer(t *testing.T) {
	c := New("http://127.0.0.1:1", WithProject("proj-a"), WithAgent("agent-1"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := c.Reserve(ctx, ReserveRequest{Patterns: []string{"a.go"}}); err == nil {
		t.Fatalf("expected failure without server")
	}
}

func TestClientReservationLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ctx := testCtx(t)
	holder := New(srv.URL, WithProject("proj-a"), WithAgent("agent-1"))
	other := New(srv.URL, WithProject("proj-a"), WithAgent("agent-2"))

	if err := holder.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}

	res, err := holder.Reserve(ctx, ReserveRequest{Patterns: []string{"src/**"}, Mode: "exclusive", TTLSeconds: 120})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !res.Granted || res.Reservation == nil || res.Reservation.TTLSeconds != 120 {
		t.Fatalf("unexpected grant: %+v", res)
	}
	id := res.Reservation.ID

	denied, err := other.Reserve(ctx, ReserveRequest{Patterns: []string{"src/main.go"}, Priority: "P1"})
	if err != nil {
		t.Fatalf("denied reserve should not error: %v", err)
	}
	if denied.Granted || len(denied.Conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", denied)
	}
	c := denied.Conflicts[0]
	if c.ExistingReservation.ID != id || len(c.Resolutions) == 0 {
		t.Fatalf("unexpected conflict: %+v", c)
	}

	check, err := other.Check(ctx, "src/main.go", "README.md")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Allowed || check.Results[0].HeldBy != "agent-1" || !check.Results[1].Allowed {
		t.Fatalf("unexpected check: %+v", check)
	}

	renewed, err := holder.Renew(ctx, id, 30*time.Second)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if renewed.RenewCount != 1 || !renewed.NewExpiresAt.Equal(res.Reservation.ExpiresAt.Add(30*time.Second)) {
		t.Fatalf("unexpected renew: %+v", renewed)
	}

	if err := other.Release(ctx, id); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	page, err := holder.ListReservations(ctx, ListOptions{Agent: "agent-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Reservations) != 1 || page.Reservations[0].ID != id {
		t.Fatalf("unexpected list: %+v", page)
	}

	stats, err := holder.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Conflicts["proj-a"]["open"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	conflicts, err := other.ListConflicts(ctx, ListOptions{Status: "open"})
	if err != nil {
		t.Fatalf("list conflicts: %v", err)
	}
	if len(conflicts.Conflicts) != 1 {
		t.Fatalf("expected one open conflict, got %d", len(conflicts.Conflicts))
	}
	resolved, err := other.ResolveConflict(ctx, c.ID, "will wait")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != "resolved" || resolved.ResolvedBy != "agent-2" {
		t.Fatalf("unexpected resolution: %+v", resolved)
	}
	if _, err := other.ResolveConflict(ctx, c.ID, "again"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second resolve, got %v", err)
	}

	if err := holder.Release(ctx, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := holder.GetReservation(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after release, got %v", err)
	}
}

func TestClientDecodesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/reservations":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_request","message":"required","field":"patterns"}`))
		default:
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":"renewal_limit","message":"renewal limit exceeded"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, WithProject("proj-a"), WithAgent("agent-1"))
	ctx := testCtx(t)

	_, err := c.Reserve(ctx, ReserveRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Field != "patterns" || !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid patterns error, got %v", err)
	}
	if got := apiErr.Error(); got != "400 invalid_request: patterns: required" {
		t.Fatalf("unexpected message %q", got)
	}

	if _, err := c.Renew(ctx, "r-1", 0); !errors.Is(err, ErrRenewalLimit) {
		t.Fatalf("expected ErrRenewalLimit, got %v", err)
	}
}

func TestWSClientReceivesEvents(t *testing.T) {
	srv := newTestServer(t)
	ctx := testCtx(t)

	events := make(chan Event, 4)
	stream := NewWSClient(srv.URL, "proj-a", WithWSAgentID("agent-1"), WithAutoReconnect(false))
	stream.OnEvent(FilteredEventHandler([]string{EventTypes.ReservationCreated}, func(ev Event) { events <- ev }))
	if err := stream.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer stream.Close()

	c := New(srv.URL, WithProject("proj-a"), WithAgent("agent-1"))
	deadline := time.After(3 * time.Second)
	for {
		// The subscription registers asynchronously; retry on fresh paths
		// until an event arrives.
		res, err := c.Reserve(ctx, ReserveRequest{Patterns: []string{"f-" + time.Now().Format("150405.000000000") + ".go"}})
		if err != nil || !res.Granted {
			t.Fatalf("reserve: %v %+v", err, res)
		}
		select {
		case ev := <-events:
			if ev.Type != EventTypes.ReservationCreated || ev.Reservation == nil || ev.Reservation.RequesterID != "agent-1" {
				t.Fatalf("unexpected event: %+v", ev)
			}
			return
		case <-time.After(50 * time.Millisecond):
		case <-deadline:
			t.Fatal("no event received")
		}
	}
}

func TestWSClientRequiresProject(t *testing.T) {
	stream := NewWSClient("http://127.0.0.1:1", "")
	if err := stream.Connect(context.Background()); err == nil {
		t.Fatal("expected error without project")
	}
}
