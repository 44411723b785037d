package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/advisor"
	"github.com/mistakeknot/interlock/internal/reservation"
	"github.com/mistakeknot/interlock/internal/ws"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// testEnv bundles a Service + httptest.Server + ws.Hub for handler tests.
type testEnv struct {
	srv   *httptest.Server
	hub   *ws.Hub
	store *reservation.Store
	clock *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	hub := ws.NewHub(nil)
	st := reservation.New(
		reservation.WithClock(clock.Now),
		reservation.WithAdvisor(advisor.New(advisor.DefaultConfig(), advisor.WithClock(clock.Now))),
		reservation.WithHandler(hub),
	)
	st.Tracker().Subscribe(hub)
	svc := NewService(st)
	srv := httptest.NewServer(NewRouter(svc, hub.Handler(), nil))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, store: st, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (e *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return e.do(t, http.MethodPost, path, body, nil)
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodGet, path, nil, nil)
}

func (e *testEnv) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	return e.do(t, http.MethodDelete, path, nil, nil)
}

// reserve creates an exclusive lease and returns its id.
func (e *testEnv) reserve(t *testing.T, project, agent string, patterns ...string) string {
	t.Helper()
	resp := e.post(t, "/api/reservations", map[string]any{
		"project_id": project,
		"agent_id":   agent,
		"patterns":   patterns,
		"mode":       "exclusive",
	})
	requireStatus(t, resp, http.StatusCreated)
	out := decodeJSON[createResponse](t, resp)
	if !out.Granted || out.Reservation == nil {
		t.Fatalf("expected grant, got %+v", out)
	}
	return out.Reservation.ID
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func requireStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("expected status %d, got %d", want, resp.StatusCode)
	}
}
