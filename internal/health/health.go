// Package health provides the HTTP health surface of the signaling server.
//
// The package exposes three endpoints:
//
//   - /health  — returns {"status":"ok","uptime":<seconds>}.
//   - /ping    — returns the plain-text body "pong".
//   - /healthz — liveness probe; always returns 200 OK.
//
// Responses other than /ping are JSON objects with a top-level "status"
// field.
package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// result is the JSON response body for /health.
type result struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

// Handler serves the health endpoints. It is safe for concurrent use.
type Handler struct {
	startedAt time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// New creates a [Handler] whose uptime counts from the moment of the call.
func New() *Handler {
	return &Handler{
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// Health reports process status and uptime in whole seconds.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	uptime := h.now().Sub(h.startedAt).Truncate(time.Second).Seconds()
	writeJSON(w, http.StatusOK, result{Status: "ok", Uptime: uptime})
}

// Ping answers "pong". It exists for quick command-line reachability checks.
func (h *Handler) Ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("pong"))
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
	}{Status: "ok"})
}

// Register adds the health routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.HandleFunc("GET /healthz", h.Healthz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
