// Package router defines the minimal routing surface the HTTP server
// mounts handlers on, plus the Route/Chain builders used to compose
// middleware around them.
package router

import (
	"net/http"
	"strings"
)

// Router registers handlers under "METHOD /path" endpoints. Adapters wrap
// concrete mux implementations.
type Router interface {
	http.Handler

	// Handle mounts handler at the endpoint. The endpoint is either
	// "METHOD /path" or a bare "/path", which registers for GET.
	Handle(endpoint string, handler http.Handler)

	HandleFunc(endpoint string, handler func(http.ResponseWriter, *http.Request))
}

// SplitEndpoint separates "METHOD /path" into its parts. A bare path
// yields GET.
func SplitEndpoint(endpoint string) (method, path string) {
	if strings.HasPrefix(endpoint, "/") {
		return http.MethodGet, endpoint
	}
	method, path, found := strings.Cut(endpoint, " ")
	if !found {
		return http.MethodGet, endpoint
	}
	return method, path
}

// Route couples an endpoint with its handler and the middleware around
// it. Unlike Chain, middlewares wrap outward: the last one added runs
// first.
type Route struct {
	endpoint    string
	handler     http.Handler
	middlewares []func(http.Handler) http.Handler
	observers   []http.Handler
}

func NewRoute(endpoint string) *Route {
	if endpoint == "" {
		panic("route endpoint cannot be empty")
	}
	return &Route{endpoint: endpoint}
}

func (r *Route) Endpoint() string { return r.endpoint }

func (r *Route) WithHandler(h http.Handler) *Route {
	r.handler = h
	return r
}

func (r *Route) WithHandlerFunc(h func(http.ResponseWriter, *http.Request)) *Route {
	r.handler = http.HandlerFunc(h)
	return r
}

func (r *Route) WithMiddleware(middlewares ...func(http.Handler) http.Handler) *Route {
	r.middlewares = append(r.middlewares, middlewares...)
	return r
}

// WithObservers adds handlers that run after the route's handler chain.
// Observers must not write to the response; headers may already be sent.
func (r *Route) WithObservers(observers ...http.Handler) *Route {
	r.observers = append(r.observers, observers...)
	return r
}

// Handler returns the final handler with middlewares and observers
// applied.
func (r *Route) Handler() http.Handler {
	if r.handler == nil {
		panic("route handler cannot be nil")
	}
	handler := r.handler
	for _, mw := range r.middlewares {
		handler = mw(handler)
	}
	if len(r.observers) == 0 {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		handler.ServeHTTP(w, req)
		for _, obs := range r.observers {
			obs.ServeHTTP(w, req)
		}
	})
}

// Register mounts every route on the router.
func Register(rt Router, routes ...*Route) {
	for _, route := range routes {
		rt.Handle(route.Endpoint(), route.Handler())
	}
}
