package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is a committed reservation or conflict change pushed by the server.
type Event struct {
	Type        string       `json:"type"`
	ProjectID   string       `json:"project_id"`
	Reservation *Reservation `json:"reservation,omitempty"`
	Conflict    *Conflict    `json:"conflict,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// EventTypes lists the event type strings the server emits.
var EventTypes = struct {
	ReservationCreated  string
	ReservationRenewed  string
	ReservationReleased string
	ReservationExpired  string
	ConflictDetected    string
	ConflictResolved    string
}{
	ReservationCreated:  "reservation.created",
	ReservationRenewed:  "reservation.renewed",
	ReservationReleased: "reservation.released",
	ReservationExpired:  "reservation.expired",
	ConflictDetected:    "conflict.detected",
	ConflictResolved:    "conflict.resolved",
}

// EventHandler is called for each event received via WebSocket
type EventHandler func(event Event)

// WSClient streams the events of one project.
type WSClient struct {
	baseURL   string
	project   string
	agentID   string
	reconnect bool

	mu       sync.RWMutex
	conn     *websocket.Conn
	handlers []EventHandler

	done      chan struct{}
	closeOnce sync.Once
}

type WSOption func(*WSClient)

// WithWSAgentID limits the stream to events involving the agent.
func WithWSAgentID(agentID string) WSOption {
	return func(c *WSClient) {
		c.agentID = agentID
	}
}

// WithAutoReconnect enables automatic reconnection on disconnect
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

func NewWSClient(baseURL, project string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		project:   project,
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect dials the stream and starts delivering events to handlers.
func (c *WSClient) Connect(ctx context.Context) error {
	if err := c.dial(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *WSClient) dial(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "client closing")
		}
	})
	return err
}

func (c *WSClient) buildWSURL() (string, error) {
	if strings.TrimSpace(c.project) == "" {
		return "", fmt.Errorf("project required")
	}
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/projects/" + url.PathEscape(c.project)
	if c.agentID != "" {
		q := u.Query()
		q.Set("agent", c.agentID)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		var event Event
		if err := wsjson.Read(ctx, conn, &event); err != nil {
			if !c.reconnect || !c.redial(ctx) {
				return
			}
			continue
		}
		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// redial retries with exponential backoff until it connects or the client
// is closed.
func (c *WSClient) redial(ctx context.Context) bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		if err := c.dial(ctx); err == nil {
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// FilteredEventHandler only forwards events of the listed types.
func FilteredEventHandler(types []string, handler EventHandler) EventHandler {
	return func(event Event) {
		if len(types) > 0 {
			matched := false
			for _, t := range types {
				if event.Type == t {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
		}
		handler(event)
	}
}
