package core

import (
	"context"
	"net/http"
	"time"
)

// ServeHealth reports liveness and whether the KV server answers.
// Endpoint: GET /healthz
func (a *App) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := a.kvc.Exists(ctx, a.prefix+"health"); err != nil {
		a.logger.Warn("health check cannot reach kv server", "error", err)
		h := w.Header()
		h["Content-Type"] = jsonHeader
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"degraded","kv":"unreachable"}`))
		return
	}

	h := w.Header()
	h["Content-Type"] = jsonHeader
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
