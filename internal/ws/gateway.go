package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/mistakeknot/interlock/internal/core"
)

const (
	writeTimeout = 5 * time.Second
	// sendBuffer is how many events may queue for one subscriber before it
	// is dropped as too slow.
	sendBuffer = 64
)

// Hub fans committed events out to WebSocket subscribers of a project.
// Subscribers connect to /ws/projects/{project} and may pass ?agent= to
// receive only events that involve that agent. Broadcast never waits on a
// connection: each subscriber has a queue drained by its own writer.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[string]map[*subscriber]struct{} // project -> agent filter -> subscribers
	logger *slog.Logger
}

type subscriber struct {
	conn    *websocket.Conn
	project string
	agent   string
	send    chan any
	gone    chan struct{}
	once    sync.Once
}

func newSubscriber(conn *websocket.Conn, project, agent string) *subscriber {
	return &subscriber{
		conn:    conn,
		project: project,
		agent:   agent,
		send:    make(chan any, sendBuffer),
		gone:    make(chan struct{}),
	}
}

func (s *subscriber) drop() { s.once.Do(func() { close(s.gone) }) }

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]map[string]map[*subscriber]struct{}), logger: logger}
}

func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/ws/projects/")
		project := strings.Trim(path, "/")
		if project == "" || strings.Contains(project, "/") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		agent := strings.TrimSpace(r.URL.Query().Get("agent"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		sub := newSubscriber(conn, project, agent)
		h.add(sub)
		defer h.remove(sub)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			defer cancel()
			for {
				var v any
				if err := wsjson.Read(ctx, conn, &v); err != nil {
					return
				}
			}
		}()
		h.writeLoop(ctx, sub)
	}
}

func (h *Hub) writeLoop(ctx context.Context, sub *subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.gone:
			sub.conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		case ev := <-sub.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, sub.conn, ev)
			cancel()
			if err != nil {
				h.logger.Debug("ws write failed; dropping subscriber", "project", sub.project, "agent", sub.agent, "error", err)
				sub.conn.Close(websocket.StatusGoingAway, "write error")
				return
			}
		}
	}
}

// HandleEvent queues ev for every subscriber of its project.
func (h *Hub) HandleEvent(ctx context.Context, ev core.Event) error {
	h.Broadcast(ev.ProjectID, involved(ev), ev)
	return nil
}

// Broadcast queues event for subscribers of project whose agent filter is
// empty or listed in agents. A subscriber with a full queue is dropped.
func (h *Hub) Broadcast(project string, agents []string, event any) {
	for _, sub := range h.snapshot(project, agents) {
		select {
		case sub.send <- event:
		default:
			h.logger.Warn("ws subscriber queue full; dropping", "project", sub.project, "agent", sub.agent)
			sub.drop()
		}
	}
}

// Subscribers returns the number of open connections for a project.
func (h *Hub) Subscribers(project string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, subs := range h.subs[project] {
		n += len(subs)
	}
	return n
}

func (h *Hub) snapshot(project string, agents []string) []*subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*subscriber
	collect := func(agent string) {
		for sub := range h.subs[project][agent] {
			out = append(out, sub)
		}
	}
	collect("")
	seen := map[string]bool{"": true}
	for _, a := range agents {
		if !seen[a] {
			seen[a] = true
			collect(a)
		}
	}
	return out
}

// involved lists the agents an event concerns.
func involved(ev core.Event) []string {
	var out []string
	if ev.Reservation != nil {
		out = append(out, ev.Reservation.RequesterID)
	}
	if ev.Conflict != nil {
		out = append(out, ev.Conflict.RequesterID, ev.Conflict.ExistingReservation.RequesterID)
	}
	return out
}

func (h *Hub) add(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.subs[sub.project]
	if !ok {
		perProject = make(map[string]map[*subscriber]struct{})
		h.subs[sub.project] = perProject
	}
	perAgent, ok := perProject[sub.agent]
	if !ok {
		perAgent = make(map[*subscriber]struct{})
		perProject[sub.agent] = perAgent
	}
	perAgent[sub] = struct{}{}
}

func (h *Hub) remove(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.subs[sub.project]
	if !ok {
		return
	}
	perAgent, ok := perProject[sub.agent]
	if !ok {
		return
	}
	delete(perAgent, sub)
	if len(perAgent) == 0 {
		delete(perProject, sub.agent)
	}
	if len(perProject) == 0 {
		delete(h.subs, sub.project)
	}
}
