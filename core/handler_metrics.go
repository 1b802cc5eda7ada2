package core

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServeMetrics serves Prometheus metrics in the standard format.
// Endpoint: GET /metrics
// Access is gated by an exact-match IP allowlist; a disabled endpoint and
// a disallowed caller are indistinguishable from a missing route.
func (a *App) ServeMetrics(w http.ResponseWriter, r *http.Request) {
	if !a.Config().Metrics.Enabled {
		writeError(w, respNotFound)
		return
	}

	clientIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		clientIP = r.RemoteAddr
	}
	if clientIP == "" {
		writeError(w, respNotFound)
		return
	}

	allowed := false
	for _, ip := range a.Config().Metrics.AllowedIPs {
		if ip == clientIP {
			allowed = true
			break
		}
	}
	if !allowed {
		writeError(w, respNotFound)
		return
	}

	promhttp.Handler().ServeHTTP(w, r)
}
