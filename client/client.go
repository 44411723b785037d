// Package client is a Go client for the interlock reservation server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
	AgentID string
	Project string
}

type Option func(*Client)

// WithAgent sets the caller identity sent as X-Agent-ID.
func WithAgent(agentID string) Option {
	return func(c *Client) {
		c.AgentID = strings.TrimSpace(agentID)
	}
}

func WithProject(project string) Option {
	return func(c *Client) {
		c.Project = strings.TrimSpace(project)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Metadata struct {
	Reason     string   `json:"reason,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
	Progress   *float64 `json:"progress,omitempty"`
	ETASeconds *int     `json:"eta_seconds,omitempty"`
	Priority   *int     `json:"priority,omitempty"`
}

type Reservation struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	RequesterID string    `json:"requester_id"`
	Patterns    []string  `json:"patterns"`
	Mode        string    `json:"mode"`
	TTLSeconds  int       `json:"ttl_seconds"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RenewCount  int       `json:"renew_count"`
	Metadata    Metadata  `json:"metadata"`
}

type Risk struct {
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

type StrategyParams struct {
	EstimatedWait     time.Duration `json:"estimated_wait,omitempty"`
	RequesterPatterns []string      `json:"requester_patterns,omitempty"`
	DeferredPatterns  []string      `json:"deferred_patterns,omitempty"`
	FromAgent         string        `json:"from_agent,omitempty"`
	ToAgent           string        `json:"to_agent,omitempty"`
	TurnDuration      time.Duration `json:"turn_duration,omitempty"`
	SuggestedMode     string        `json:"suggested_mode,omitempty"`
}

type Resolution struct {
	Type                   string         `json:"type"`
	Params                 StrategyParams `json:"params"`
	Confidence             int            `json:"confidence"`
	Risks                  []Risk         `json:"risks"`
	AutoResolutionEligible bool           `json:"auto_resolution_eligible"`
	Rationale              string         `json:"rationale,omitempty"`
}

type Conflict struct {
	ID                  string       `json:"conflict_id"`
	ProjectID           string       `json:"project_id"`
	Status              string       `json:"status"`
	DetectedAt          time.Time    `json:"detected_at"`
	ResolvedAt          *time.Time   `json:"resolved_at,omitempty"`
	RequesterID         string       `json:"requester_id"`
	RequestedMode       string       `json:"requested_mode"`
	RequestedPatterns   []string     `json:"requested_patterns"`
	ExistingReservation Reservation  `json:"existing_reservation"`
	OverlappingPattern  string       `json:"overlapping_pattern"`
	HeldPattern         string       `json:"held_pattern"`
	Resolutions         []Resolution `json:"resolutions"`
	ResolvedBy          string       `json:"resolved_by,omitempty"`
	ResolutionReason    string       `json:"resolution_reason,omitempty"`
}

type ReserveRequest struct {
	Patterns   []string `json:"patterns"`
	Mode       string   `json:"mode,omitempty"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Metadata   Metadata `json:"metadata"`
}

// ReserveResult is either a grant or the conflicts that blocked it.
type ReserveResult struct {
	Granted     bool
	Reservation *Reservation
	Conflicts   []Conflict
}

type RenewResult struct {
	ID           string    `json:"id"`
	NewExpiresAt time.Time `json:"new_expires_at"`
	RenewCount   int       `json:"renew_count"`
}

type CheckResult struct {
	Path          string     `json:"path"`
	Allowed       bool       `json:"allowed"`
	HeldBy        string     `json:"held_by,omitempty"`
	Mode          string     `json:"mode,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ReservationID string     `json:"reservation_id,omitempty"`
	Pattern       string     `json:"pattern,omitempty"`
}

type CheckResponse struct {
	Allowed bool          `json:"allowed"`
	Results []CheckResult `json:"results"`
}

type ListOptions struct {
	Agent  string
	Mode   string
	Status string
	Cursor string
	Limit  int
}

type ReservationPage struct {
	Reservations []Reservation `json:"reservations"`
	NextCursor   string        `json:"next_cursor,omitempty"`
}

type ConflictPage struct {
	Conflicts  []Conflict `json:"conflicts"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type Stats struct {
	Total             int                       `json:"total"`
	ByProject         map[string]int            `json:"by_project"`
	ByMode            map[string]int            `json:"by_mode"`
	AverageRenewCount float64                   `json:"average_renew_count"`
	Conflicts         map[string]map[string]int `json:"conflicts"`
}

var (
	ErrInvalid      = errors.New("invalid request")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("reservation conflict")
	ErrRenewalLimit = errors.New("renewal limit exceeded")
)

// APIError is a non-2xx response. errors.Is matches it against the
// sentinel for its status.
type APIError struct {
	Status    int        `json:"-"`
	Code      string     `json:"error"`
	Message   string     `json:"message"`
	Field     string     `json:"field,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Field != "" {
		return fmt.Sprintf("%d %s: %s: %s", e.Status, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, msg)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return ErrInvalid
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusConflict:
		return ErrConflict
	case http.StatusUnprocessableEntity:
		return ErrRenewalLimit
	}
	return nil
}

// Reserve asks for a lease. A denial is returned as a result with
// conflicts, not as an error.
func (c *Client) Reserve(ctx context.Context, req ReserveRequest) (ReserveResult, error) {
	body := struct {
		ProjectID string `json:"project_id"`
		AgentID   string `json:"agent_id"`
		ReserveRequest
	}{c.Project, c.AgentID, req}

	var out struct {
		Granted     bool         `json:"granted"`
		Reservation *Reservation `json:"reservation"`
	}
	err := c.do(ctx, http.MethodPost, "/api/reservations", body, &out, http.StatusCreated)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
		return ReserveResult{Granted: false, Conflicts: apiErr.Conflicts}, nil
	}
	if err != nil {
		return ReserveResult{}, err
	}
	return ReserveResult{Granted: out.Granted, Reservation: out.Reservation}, nil
}

func (c *Client) GetReservation(ctx context.Context, id string) (Reservation, error) {
	var out Reservation
	err := c.do(ctx, http.MethodGet, "/api/reservations/"+url.PathEscape(id), nil, &out, http.StatusOK)
	return out, err
}

// ListReservations lists active leases of the client project, or of every
// project when it is empty.
func (c *Client) ListReservations(ctx context.Context, opts ListOptions) (ReservationPage, error) {
	q := url.Values{}
	setIf(q, "project", c.Project)
	setIf(q, "agent", opts.Agent)
	setIf(q, "mode", opts.Mode)
	setIf(q, "cursor", opts.Cursor)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out ReservationPage
	err := c.do(ctx, http.MethodGet, "/api/reservations?"+q.Encode(), nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) Release(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/reservations/"+url.PathEscape(id), nil, nil, http.StatusOK)
}

// Renew extends a lease. A zero additional uses the lease's original ttl.
func (c *Client) Renew(ctx context.Context, id string, additional time.Duration) (RenewResult, error) {
	body := map[string]any{"agent_id": c.AgentID}
	if additional != 0 {
		body["additional_ttl_seconds"] = int(additional / time.Second)
	}
	var out RenewResult
	err := c.do(ctx, http.MethodPost, "/api/reservations/"+url.PathEscape(id)+"/renew", body, &out, http.StatusOK)
	return out, err
}

// Check reports whether the client agent may write each path.
func (c *Client) Check(ctx context.Context, paths ...string) (CheckResponse, error) {
	q := url.Values{}
	setIf(q, "project", c.Project)
	setIf(q, "agent", c.AgentID)
	q.Set("paths", strings.Join(paths, ","))
	var out CheckResponse
	err := c.do(ctx, http.MethodGet, "/api/check?"+q.Encode(), nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) ListConflicts(ctx context.Context, opts ListOptions) (ConflictPage, error) {
	q := url.Values{}
	setIf(q, "project", c.Project)
	setIf(q, "status", opts.Status)
	setIf(q, "cursor", opts.Cursor)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var out ConflictPage
	err := c.do(ctx, http.MethodGet, "/api/conflicts?"+q.Encode(), nil, &out, http.StatusOK)
	return out, err
}

func (c *Client) GetConflict(ctx context.Context, id string) (Conflict, error) {
	var out Conflict
	err := c.do(ctx, http.MethodGet, "/api/conflicts/"+url.PathEscape(id), nil, &out, http.StatusOK)
	return out, err
}

// ResolveConflict closes an open conflict on behalf of the client agent.
func (c *Client) ResolveConflict(ctx context.Context, id, reason string) (Conflict, error) {
	body := map[string]string{"resolved_by": c.AgentID, "reason": reason}
	var out Conflict
	err := c.do(ctx, http.MethodPost, "/api/conflicts/"+url.PathEscape(id)+"/resolve", body, &out, http.StatusOK)
	return out, err
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK)
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any, want int) error {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AgentID != "" {
		req.Header.Set("X-Agent-ID", c.AgentID)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
