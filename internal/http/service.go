package httpapi

import (
	"log/slog"

	"github.com/mistakeknot/interlock/internal/conflict"
	"github.com/mistakeknot/interlock/internal/reservation"
)

// Service adapts the reservation store and its conflict tracker to JSON
// over HTTP.
type Service struct {
	store     *reservation.Store
	conflicts *conflict.Tracker
	logger    *slog.Logger
}

func NewService(store *reservation.Store) *Service {
	return &Service{store: store, conflicts: store.Tracker(), logger: slog.Default()}
}

func (s *Service) WithLogger(l *slog.Logger) *Service {
	if l != nil {
		s.logger = l
	}
	return s
}
