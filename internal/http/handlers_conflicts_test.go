package httpapi

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/interlock/internal/core"
)

func denyOnce(t *testing.T, env *testEnv, project, agent, pattern string) core.Conflict {
	t.Helper()
	resp := env.post(t, "/api/reservations", map[string]any{
		"project_id": project,
		"agent_id":   agent,
		"patterns":   []string{pattern},
	})
	requireStatus(t, resp, http.StatusConflict)
	body := decodeJSON[errorResponse](t, resp)
	if len(body.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(body.Conflicts))
	}
	return body.Conflicts[0]
}

func TestConflictListAndResolve(t *testing.T) {
	env := newTestEnv(t)
	env.reserve(t, "proj-a", "agent-1", "src/**")
	first := denyOnce(t, env, "proj-a", "agent-2", "src/a.go")
	env.clock.Advance(time.Second)
	second := denyOnce(t, env, "proj-a", "agent-3", "src/b.go")

	resp := env.get(t, "/api/conflicts?project=proj-a")
	requireStatus(t, resp, http.StatusOK)
	list := decodeJSON[conflictsResponse](t, resp)
	if len(list.Conflicts) != 2 || list.Conflicts[0].ID != second.ID {
		t.Fatalf("expected newest first, got %+v", list.Conflicts)
	}

	resp = env.post(t, "/api/conflicts/"+first.ID+"/resolve", map[string]any{"resolved_by": "agent-2", "reason": "waited"})
	requireStatus(t, resp, http.StatusOK)
	resolved := decodeJSON[core.Conflict](t, resp)
	if resolved.Status != core.ConflictResolved || resolved.ResolvedAt == nil || resolved.ResolvedBy != "agent-2" {
		t.Fatalf("unexpected resolved conflict: %+v", resolved)
	}

	// Resolving twice is reported as not found and keeps the first stamp.
	env.clock.Advance(time.Minute)
	resp = env.post(t, "/api/conflicts/"+first.ID+"/resolve", map[string]any{"resolved_by": "agent-9"})
	requireStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
	resp = env.get(t, "/api/conflicts/" + first.ID)
	again := decodeJSON[core.Conflict](t, resp)
	if !again.ResolvedAt.Equal(*resolved.ResolvedAt) || again.ResolvedBy != "agent-2" {
		t.Fatalf("resolution was re-stamped: %+v", again)
	}

	resp = env.get(t, "/api/conflicts?project=proj-a&status=open")
	open := decodeJSON[conflictsResponse](t, resp)
	if len(open.Conflicts) != 1 || open.Conflicts[0].ID != second.ID {
		t.Fatalf("expected only the second conflict open, got %+v", open.Conflicts)
	}

	resp = env.get(t, "/api/conflicts?project=proj-a&limit=1")
	page := decodeJSON[conflictsResponse](t, resp)
	if len(page.Conflicts) != 1 || page.NextCursor == "" {
		t.Fatalf("expected a cursor, got %+v", page)
	}
	resp = env.get(t, "/api/conflicts?project=proj-a&limit=1&cursor="+page.NextCursor)
	page = decodeJSON[conflictsResponse](t, resp)
	if len(page.Conflicts) != 1 || page.Conflicts[0].ID != first.ID {
		t.Fatalf("expected the older conflict on page two, got %+v", page.Conflicts)
	}
}

func TestConflictErrors(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
	}{
		{"list without project", http.MethodGet, "/api/conflicts", nil, http.StatusBadRequest},
		{"unknown status", http.MethodGet, "/api/conflicts?project=p&status=stale", nil, http.StatusBadRequest},
		{"bad cursor", http.MethodGet, "/api/conflicts?project=p&cursor=zz", nil, http.StatusBadRequest},
		{"unknown conflict", http.MethodGet, "/api/conflicts/missing", nil, http.StatusNotFound},
		{"resolve unknown", http.MethodPost, "/api/conflicts/missing/resolve", map[string]any{"resolved_by": "a"}, http.StatusNotFound},
		{"resolve without actor", http.MethodPost, "/api/conflicts/missing/resolve", nil, http.StatusBadRequest},
		{"bad method", http.MethodDelete, "/api/conflicts/missing", nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(t, tc.method, tc.path, tc.body, nil)
			requireStatus(t, resp, tc.status)
			resp.Body.Close()
		})
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.reserve(t, "proj-a", "agent-1", "src/**")
	env.reserve(t, "proj-b", "agent-1", "docs/**")
	denyOnce(t, env, "proj-a", "agent-2", "src/a.go")

	resp := env.get(t, "/api/stats")
	requireStatus(t, resp, http.StatusOK)
	out := decodeJSON[statsResponse](t, resp)
	if out.Total != 2 || out.ByProject["proj-a"] != 1 || out.ByMode[core.ModeExclusive] != 2 {
		t.Fatalf("unexpected stats: %+v", out.Stats)
	}
	if out.Conflicts["proj-a"][core.ConflictOpen] != 1 {
		t.Fatalf("expected one open conflict, got %+v", out.Conflicts)
	}
}

func TestConflictEventStreamedOverWS(t *testing.T) {
	env := newTestEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/projects/proj-a?agent=agent-1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for env.hub.Subscribers("proj-a") == 0 {
		if ctx.Err() != nil {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	env.reserve(t, "proj-a", "agent-1", "src/**")
	denyOnce(t, env, "proj-a", "agent-2", "src/a.go")

	var types []core.EventType
	for len(types) < 2 {
		var ev core.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read event: %v", err)
		}
		types = append(types, ev.Type)
	}
	if types[0] != core.EventReservationCreated || types[1] != core.EventConflictDetected {
		t.Fatalf("unexpected event order: %v", types)
	}
}
