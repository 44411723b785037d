package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/reservation"
)

type wsEnv struct {
	srv   *httptest.Server
	hub   *Hub
	store *reservation.Store
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	hub := NewHub(nil)
	st := reservation.New(reservation.WithHandler(hub))
	st.Tracker().Subscribe(hub)
	mux := http.NewServeMux()
	mux.Handle("/ws/projects/", hub.Handler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &wsEnv{srv: srv, hub: hub, store: st}
}

// dialWS subscribes to a project, optionally filtered to one agent.
func dialWS(t *testing.T, env *wsEnv, project, agent string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/projects/" + project
	if agent != "" {
		wsURL += "?agent=" + agent
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial %s/%s: %v", project, agent, err)
	}
	waitSubscribers(t, env.hub, project)
	return conn
}

// waitSubscribers blocks until the hub has registered at least one
// connection for project.
func waitSubscribers(t *testing.T, hub *Hub, project string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(project) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no subscriber registered for %s", project)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readWSEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) core.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var event core.Event
	if err := wsjson.Read(ctx, conn, &event); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return event
}

func expectSilence(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	var noop map[string]any
	if err := wsjson.Read(ctx, conn, &noop); err == nil {
		t.Fatal(msg)
	}
}

func reserve(t *testing.T, st *reservation.Store, project, agent string, patterns ...string) reservation.CreateResult {
	t.Helper()
	res, err := st.Create(context.Background(), reservation.CreateParams{
		ProjectID:   project,
		RequesterID: agent,
		Patterns:    patterns,
		Mode:        core.ModeExclusive,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return res
}

func TestWSRejectsMissingProject(t *testing.T) {
	env := newWSEnv(t)
	resp, err := http.Get(env.srv.URL + "/ws/projects/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWSReceivesReservationEvents(t *testing.T) {
	env := newWSEnv(t)
	conn := dialWS(t, env, "proj-a", "")
	defer conn.Close(websocket.StatusNormalClosure, "")

	res := reserve(t, env.store, "proj-a", "agent-1", "src/**")
	if !res.Granted {
		t.Fatal("expected grant")
	}

	ev := readWSEvent(t, conn, 2*time.Second)
	if ev.Type != core.EventReservationCreated {
		t.Fatalf("expected reservation.created, got %s", ev.Type)
	}
	if ev.Reservation == nil || ev.Reservation.ID != res.Reservation.ID {
		t.Fatalf("unexpected payload: %+v", ev.Reservation)
	}

	if err := env.store.Release(context.Background(), res.Reservation.ID, "agent-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ev = readWSEvent(t, conn, 2*time.Second)
	if ev.Type != core.EventReservationReleased {
		t.Fatalf("expected reservation.released, got %s", ev.Type)
	}
}

func TestWSProjectIsolation(t *testing.T) {
	env := newWSEnv(t)
	connA := dialWS(t, env, "proj-a", "")
	defer connA.Close(websocket.StatusNormalClosure, "")
	connB := dialWS(t, env, "proj-b", "")
	defer connB.Close(websocket.StatusNormalClosure, "")

	reserve(t, env.store, "proj-a", "agent-1", "a.go")

	if ev := readWSEvent(t, connA, 2*time.Second); ev.ProjectID != "proj-a" {
		t.Fatalf("expected proj-a event, got %s", ev.ProjectID)
	}
	expectSilence(t, connB, "proj-b subscriber should NOT have received a proj-a event")
}

func TestWSAgentFilter(t *testing.T) {
	env := newWSEnv(t)
	connHolder := dialWS(t, env, "proj-x", "agent-1")
	defer connHolder.Close(websocket.StatusNormalClosure, "")
	connOther := dialWS(t, env, "proj-x", "agent-9")
	defer connOther.Close(websocket.StatusNormalClosure, "")

	reserve(t, env.store, "proj-x", "agent-1", "src/**")
	if ev := readWSEvent(t, connHolder, 2*time.Second); ev.Type != core.EventReservationCreated {
		t.Fatalf("expected reservation.created, got %s", ev.Type)
	}

	// A denied request by agent-2 involves agent-1 as the holder.
	denied := reserve(t, env.store, "proj-x", "agent-2", "src/main.go")
	if denied.Granted {
		t.Fatal("expected denial")
	}
	ev := readWSEvent(t, connHolder, 2*time.Second)
	if ev.Type != core.EventConflictDetected {
		t.Fatalf("expected conflict.detected, got %s", ev.Type)
	}
	if ev.Conflict == nil || ev.Conflict.ExistingReservation.RequesterID != "agent-1" {
		t.Fatalf("unexpected conflict payload: %+v", ev.Conflict)
	}

	expectSilence(t, connOther, "agent-9 should NOT receive events it is not involved in")
}

func TestWSSubscriptionCleanup(t *testing.T) {
	env := newWSEnv(t)
	conn := dialWS(t, env, "proj-x", "")
	conn.Close(websocket.StatusNormalClosure, "done")

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("proj-x") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber was not removed after close")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Emitting after disconnect must not panic or block.
	reserve(t, env.store, "proj-x", "agent-1", "a.go")
}

func TestWSConcurrentBroadcast(t *testing.T) {
	env := newWSEnv(t)

	const numSubscribers = 10
	const numEvents = 5

	conns := make([]*websocket.Conn, numSubscribers)
	for i := 0; i < numSubscribers; i++ {
		conns[i] = dialWS(t, env, "proj-x", "")
		defer conns[i].Close(websocket.StatusNormalClosure, "")
	}
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Subscribers("proj-x") < numSubscribers {
		if time.Now().After(deadline) {
			t.Fatalf("only %d subscribers registered", env.hub.Subscribers("proj-x"))
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < numEvents; i++ {
		reserve(t, env.store, "proj-x", fmt.Sprintf("agent-%d", i), fmt.Sprintf("file-%d.go", i))
	}

	var wg sync.WaitGroup
	for i := 0; i < numSubscribers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < numEvents; j++ {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				var event core.Event
				err := wsjson.Read(ctx, conns[idx], &event)
				cancel()
				if err != nil {
					t.Errorf("subscriber %d failed to read event %d: %v", idx, j, err)
					return
				}
			}
		}(i)
	}
	wg.Wait()
}

func TestBroadcastDoesNotWaitOnSlowSubscriber(t *testing.T) {
	hub := NewHub(nil)
	stalled := newSubscriber(nil, "proj-x", "")
	for i := 0; i < sendBuffer; i++ {
		stalled.send <- i
	}
	healthy := newSubscriber(nil, "proj-x", "")
	hub.add(stalled)
	hub.add(healthy)

	ev := core.Event{Type: core.EventReservationCreated, ProjectID: "proj-x", Reservation: &core.Reservation{ID: "r-1", RequesterID: "agent-1"}}
	done := make(chan struct{})
	go func() {
		_ = hub.HandleEvent(context.Background(), ev)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a stalled subscriber")
	}

	select {
	case <-stalled.gone:
	default:
		t.Fatal("stalled subscriber should be dropped")
	}
	select {
	case got := <-healthy.send:
		if got.(core.Event).Reservation.ID != "r-1" {
			t.Fatalf("unexpected event %+v", got)
		}
	default:
		t.Fatal("healthy subscriber did not receive the event")
	}
}
