package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/glob"
	"github.com/mistakeknot/interlock/internal/reservation"
)

type reservationRequest struct {
	ProjectID  string                   `json:"project_id"`
	AgentID    string                   `json:"agent_id"`
	Patterns   []string                 `json:"patterns"`
	Mode       core.Mode                `json:"mode"`
	TTLSeconds int                      `json:"ttl_seconds"`
	Priority   string                   `json:"priority,omitempty"` // P0..P4
	Metadata   core.ReservationMetadata `json:"metadata"`
}

type createResponse struct {
	Granted     bool              `json:"granted"`
	Reservation *core.Reservation `json:"reservation,omitempty"`
}

type renewRequest struct {
	AgentID              string `json:"agent_id"`
	AdditionalTTLSeconds *int   `json:"additional_ttl_seconds,omitempty"`
}

type renewResponse struct {
	ID           string    `json:"id"`
	NewExpiresAt time.Time `json:"new_expires_at"`
	RenewCount   int       `json:"renew_count"`
}

type reservationsResponse struct {
	Reservations []core.Reservation `json:"reservations"`
	NextCursor   string             `json:"next_cursor,omitempty"`
}

type checkResult struct {
	Path          string     `json:"path"`
	Allowed       bool       `json:"allowed"`
	HeldBy        string     `json:"held_by,omitempty"`
	Mode          core.Mode  `json:"mode,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ReservationID string     `json:"reservation_id,omitempty"`
	Pattern       string     `json:"pattern,omitempty"`
}

type checkResponse struct {
	Allowed bool          `json:"allowed"`
	Results []checkResult `json:"results"`
}

// agentID resolves the caller identity: the X-Agent-ID header wins over a
// value carried in the body or query.
func agentID(r *http.Request, fallback string) string {
	if h := strings.TrimSpace(r.Header.Get("X-Agent-ID")); h != "" {
		return h
	}
	return strings.TrimSpace(fallback)
}

func (s *Service) handleReservations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listReservations(w, r)
	case http.MethodPost:
		s.createReservation(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleReservationByID serves /api/reservations/{id} and
// /api/reservations/{id}/renew.
func (s *Service) handleReservationByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/reservations/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(parts) == 2 {
		if parts[1] != "renew" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.renewReservation(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getReservation(w, r, id)
	case http.MethodDelete:
		s.releaseReservation(w, r, id)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Service) createReservation(w http.ResponseWriter, r *http.Request) {
	var req reservationRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	params := reservation.CreateParams{
		ProjectID:   req.ProjectID,
		RequesterID: agentID(r, req.AgentID),
		Patterns:    req.Patterns,
		Mode:        req.Mode,
		TTLSeconds:  req.TTLSeconds,
		Metadata:    req.Metadata,
	}
	if req.Priority != "" {
		p, err := core.ParsePriority(req.Priority)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		params.Priority = &p
	}

	res, err := s.store.Create(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !res.Granted {
		s.writeError(w, r, res.Err())
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{Granted: true, Reservation: res.Reservation})
}

func (s *Service) listReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, core.Invalid("limit", "%q is not a number", v))
			return
		}
		limit = n
	}
	res, err := s.store.List(reservation.ListFilter{
		ProjectID:   q.Get("project"),
		RequesterID: q.Get("agent"),
		Mode:        core.Mode(q.Get("mode")),
	}, reservation.Page{Cursor: q.Get("cursor"), Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := reservationsResponse{Reservations: res.Reservations, NextCursor: res.NextCursor}
	if out.Reservations == nil {
		out.Reservations = []core.Reservation{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) getReservation(w http.ResponseWriter, r *http.Request, id string) {
	res, err := s.store.Get(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) releaseReservation(w http.ResponseWriter, r *http.Request, id string) {
	agent := agentID(r, r.URL.Query().Get("agent_id"))
	if agent == "" {
		s.writeError(w, r, core.Invalid("agent_id", "required"))
		return
	}
	if err := s.store.Release(r.Context(), id, agent); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Service) renewReservation(w http.ResponseWriter, r *http.Request, id string) {
	var req renewRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	agent := agentID(r, req.AgentID)
	if agent == "" {
		s.writeError(w, r, core.Invalid("agent_id", "required"))
		return
	}
	res, err := s.store.Renew(r.Context(), id, agent, req.AdditionalTTLSeconds)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, renewResponse{ID: id, NewExpiresAt: res.NewExpiresAt, RenewCount: res.RenewCount})
}

// handleCheck serves GET /api/check?project=&agent=&path= (or paths=a,b).
func (s *Service) handleCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	paths := glob.SplitList(q.Get("paths"))
	if p := strings.TrimSpace(q.Get("path")); p != "" {
		paths = append([]string{p}, paths...)
	}
	if len(paths) == 0 {
		s.writeError(w, r, core.Invalid("path", "required"))
		return
	}

	results, err := s.store.CheckMany(q.Get("project"), agentID(r, q.Get("agent")), paths)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := checkResponse{Allowed: true, Results: make([]checkResult, 0, len(results))}
	for _, res := range results {
		if !res.Allowed {
			out.Allowed = false
		}
		out.Results = append(out.Results, checkResult{
			Path:          res.Path,
			Allowed:       res.Allowed,
			HeldBy:        res.HeldBy,
			Mode:          res.Mode,
			ExpiresAt:     res.ExpiresAt,
			ReservationID: res.ReservationID,
			Pattern:       res.Pattern,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
