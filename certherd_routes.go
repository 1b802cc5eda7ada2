package certherd

import (
	"log/slog"
	"net/http"

	"github.com/caasmo/certherd/config"
	"github.com/caasmo/certherd/core"
	r "github.com/caasmo/certherd/router"
)

// logRequests traces dispatcher traffic at debug level. The CA's
// validation requests are the only expected callers.
func logRequests(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Debug("http request",
				"method", req.Method,
				"host", req.Host,
				"path", req.URL.Path,
				"remote", req.RemoteAddr,
			)
			next.ServeHTTP(w, req)
		})
	}
}

func route(cfg *config.Config, ap *core.App) {
	challenges := r.NewChain(http.HandlerFunc(ap.ServeChallenge)).
		WithMiddleware(logRequests(ap.Logger())).
		Handler()

	routes := []*r.Route{
		// Subtree endpoint: the handler extracts the token from the path.
		r.NewRoute("GET " + core.ChallengePathPrefix).WithHandler(challenges),
		r.NewRoute("GET /healthz").WithHandlerFunc(ap.ServeHealth),
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint != "" {
		routes = append(routes, r.NewRoute("GET "+cfg.Metrics.Endpoint).WithHandlerFunc(ap.ServeMetrics))
	}
	r.Register(ap.Router(), routes...)
}
