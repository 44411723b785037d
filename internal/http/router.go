package httpapi

import "net/http"

// NewRouter mounts the reservation API and, when given, the WebSocket event
// stream. mw wraps every route.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/healthz", wrap(svc.handleHealth))
	mux.Handle("/api/reservations", wrap(svc.handleReservations))
	mux.Handle("/api/reservations/", wrap(svc.handleReservationByID))
	mux.Handle("/api/check", wrap(svc.handleCheck))
	mux.Handle("/api/stats", wrap(svc.handleStats))
	mux.Handle("/api/conflicts", wrap(svc.handleConflicts))
	mux.Handle("/api/conflicts/", wrap(svc.handleConflictByID))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/projects/", mw(wsHandler))
		} else {
			mux.Handle("/ws/projects/", wsHandler)
		}
	}

	return mux
}
