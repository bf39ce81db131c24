package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mir00r/session-gateway/internal/controller"
	"github.com/mir00r/session-gateway/pkg/logger"
)

// NewRouter builds the gateway's full route table over ctrl, wrapped in the
// logging, recovery and timeout middleware chain.
func NewRouter(ctrl *controller.Controller, log *logger.Logger, requestTimeout time.Duration) http.Handler {
	h := NewHandlers(ctrl)
	r := mux.NewRouter()

	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/pair/{number}", h.Pair).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/delete-session/{sessionId}", h.DeleteSession).Methods(http.MethodDelete)
	r.HandleFunc("/find-session/{sessionId}", h.FindSession).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/health/check/{serverId}", h.CheckServer).Methods(http.MethodPost)
	r.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/servers", h.Servers).Methods(http.MethodGet)
	r.HandleFunc("/servers/{id}", h.ServerByID).Methods(http.MethodGet)
	r.HandleFunc("/servers/reset/{serverId}", h.ResetServer).Methods(http.MethodPost)
	r.HandleFunc("/total-sessions", h.TotalSessions).Methods(http.MethodGet)

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggingMiddleware(log))
	if requestTimeout > 0 {
		r.Use(TimeoutMiddleware(requestTimeout))
	}

	return r
}
