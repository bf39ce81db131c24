// Package httpapi exposes the gateway's inbound HTTP surface: pairing,
// session lookup and deletion, and the health/stats/servers/total-sessions
// diagnostics, routed with gorilla/mux.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/gorilla/mux"
	"github.com/mir00r/session-gateway/internal/controller"
	"github.com/mir00r/session-gateway/internal/gwerrors"
	"github.com/mir00r/session-gateway/internal/upstream"
)

var (
	pairNumberPattern = regexp.MustCompile(`^\d{6,15}$`)
	sessionIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{10,100}$`)
)

// Handlers holds the controller every route delegates to.
type Handlers struct {
	ctrl *controller.Controller
}

// NewHandlers builds a Handlers over ctrl.
func NewHandlers(ctrl *controller.Controller) *Handlers {
	return &Handlers{ctrl: ctrl}
}

// envelope is the JSON shape every response carries: an ok flag, a
// timestamp, and either data or an error payload.
type envelope struct {
	OK        bool        `json:"ok"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	Error     *errorBody  `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{OK: status < 400, Timestamp: time.Now().UTC(), Data: data})
}

func writeError(w http.ResponseWriter, err error) {
	status := gwerrors.HTTPStatusCode(err)
	code := string(gwerrors.CodeInternal)
	message := err.Error()
	if ge, ok := gwerrors.As(err); ok {
		code = string(ge.Code)
		message = ge.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		OK:        false,
		Timestamp: time.Now().UTC(),
		Error:     &errorBody{Code: code, Message: message},
	})
}

func gwErrInternal(msg string) *gwerrors.GatewayError { return gwerrors.New(gwerrors.CodeInternal, msg) }
func gwErrTimeout(msg string) *gwerrors.GatewayError  { return gwerrors.New(gwerrors.CodeTimeout, msg) }
func gwErrInvalid(msg string) *gwerrors.GatewayError  { return gwerrors.New(gwerrors.CodeInvalidInput, msg) }

// Pair handles POST/GET /pair/{number}: forwards the pairing request to the
// least-loaded healthy backend.
func (h *Handlers) Pair(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]
	if !pairNumberPattern.MatchString(number) {
		writeError(w, gwErrInvalid("pair number must be 6-15 digits"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, gwErrInvalid("could not read request body"))
		return
	}

	result, err := h.ctrl.Pair(r.Context(), forwardRequestFrom(r, body))
	if err != nil {
		writeError(w, err)
		return
	}

	for k, v := range result.Headers {
		w.Header()[k] = v
	}
	w.Header().Set("x-backend-server", result.BackendID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

// DeleteSession handles DELETE /delete-session/{sessionId}.
func (h *Handlers) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if !sessionIDPattern.MatchString(sessionID) {
		writeError(w, gwErrInvalid("sessionId is malformed"))
		return
	}

	backendID, err := h.ctrl.DeleteSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID, "backendId": backendID})
}

// FindSession handles GET /find-session/{sessionId}.
func (h *Handlers) FindSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionId"]
	if !sessionIDPattern.MatchString(sessionID) {
		writeError(w, gwErrInvalid("sessionId is malformed"))
		return
	}

	location, err := h.ctrl.FindSession(r.Context(), sessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"found":     true,
		"server":    location.Server,
		"cached":    location.Cached,
	})
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.ctrl.Health()
	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// Stats handles GET /stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Stats())
}

// Servers handles GET /servers.
func (h *Handlers) Servers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Servers())
}

// ServerByID handles the supplemented GET /servers/{id} detail view.
func (h *Handlers) ServerByID(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snapshot, err := h.ctrl.ServerByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// TotalSessions handles GET /total-sessions.
func (h *Handlers) TotalSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.TotalSessions(r.Context()))
}

// CheckServer handles the admin POST /health/check/{serverId} operation.
func (h *Handlers) CheckServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["serverId"]
	if err := h.ctrl.CheckServer(r.Context(), id); err != nil {
		var ge *gwerrors.GatewayError
		if errors.As(err, &ge) && ge.Code == gwerrors.CodeNotFound {
			writeError(w, err)
			return
		}
		// A transport/capacity error from the probe itself is still a
		// successful check: it means the backend is now known unhealthy.
	}
	snapshot, err := h.ctrl.ServerByID(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// ResetServer handles the admin POST /servers/reset/{serverId} operation.
func (h *Handlers) ResetServer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["serverId"]
	if err := h.ctrl.ResetServer(id); err != nil {
		writeError(w, err)
		return
	}
	snapshot, _ := h.ctrl.ServerByID(id)
	writeJSON(w, http.StatusOK, snapshot)
}

// Root handles GET / with a service banner listing every route, rather
// than a bare 404.
func (h *Handlers) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "session-gateway",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"pair":           "GET/POST /pair/{number}",
			"deleteSession":  "DELETE /delete-session/{sessionId}",
			"findSession":    "GET /find-session/{sessionId}",
			"health":         "GET /health",
			"checkServer":    "POST /health/check/{serverId}",
			"stats":          "GET /stats",
			"servers":        "GET /servers",
			"serverDetail":   "GET /servers/{id}",
			"resetServer":    "POST /servers/reset/{serverId}",
			"totalSessions":  "GET /total-sessions",
		},
	})
}

func forwardRequestFrom(r *http.Request, body []byte) upstream.ForwardRequest {
	return upstream.ForwardRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		Body:       body,
		RemoteAddr: r.RemoteAddr,
	}
}
