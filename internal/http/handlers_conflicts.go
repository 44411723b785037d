package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/mistakeknot/interlock/internal/conflict"
	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/reservation"
)

type conflictsResponse struct {
	Conflicts  []core.Conflict `json:"conflicts"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type resolveRequest struct {
	ResolvedBy string `json:"resolved_by"`
	Reason     string `json:"reason"`
}

type statsResponse struct {
	reservation.Stats
	Conflicts map[string]map[core.ConflictStatus]int `json:"conflicts"`
}

func (s *Service) handleConflicts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	project := q.Get("project")
	if project == "" {
		s.writeError(w, r, core.Invalid("project", "required"))
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, core.Invalid("limit", "%q is not a number", v))
			return
		}
		limit = n
	}
	res, err := s.conflicts.List(project, core.ConflictStatus(q.Get("status")), conflict.Page{Cursor: q.Get("cursor"), Limit: limit})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := conflictsResponse{Conflicts: res.Conflicts, NextCursor: res.NextCursor}
	if out.Conflicts == nil {
		out.Conflicts = []core.Conflict{}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleConflictByID serves GET /api/conflicts/{id} and
// POST /api/conflicts/{id}/resolve.
func (s *Service) handleConflictByID(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/conflicts/"), "/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" || len(parts) > 2 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		c, err := s.conflicts.Get(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
		return
	}
	if parts[1] != "resolve" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req resolveRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	resolvedBy := agentID(r, req.ResolvedBy)
	if resolvedBy == "" {
		s.writeError(w, r, core.Invalid("resolved_by", "required"))
		return
	}
	c, err := s.conflicts.Resolve(r.Context(), id, resolvedBy, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: s.store.Stats(), Conflicts: s.conflicts.Counts()})
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
