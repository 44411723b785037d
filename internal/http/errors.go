package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mistakeknot/interlock/internal/core"
)

type errorResponse struct {
	Error     string          `json:"error"`
	Message   string          `json:"message,omitempty"`
	Field     string          `json:"field,omitempty"`
	Conflicts []core.Conflict `json:"conflicts,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return core.Invalid("body", "%v", err)
	}
	return nil
}

// writeError maps the core error taxonomy onto status codes.
func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *core.ValidationError
		ce *core.ConflictError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid_request", Message: ve.Message, Field: ve.Field})
	case errors.As(err, &ce):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "reservation_conflict", Message: ce.Error(), Conflicts: ce.Conflicts})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, core.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, core.ErrRenewalLimit):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "renewal_limit", Message: err.Error()})
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "internal error"})
	}
}
