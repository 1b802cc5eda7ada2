// Package httprouter adapts julienschmidt's httprouter to the router
// interface.
package httprouter

import (
	"net/http"
	"strings"

	jshttprouter "github.com/julienschmidt/httprouter"

	"github.com/caasmo/certherd/router"
)

type Router struct {
	rt *jshttprouter.Router
}

func New() router.Router {
	return &Router{rt: jshttprouter.New()}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.rt.ServeHTTP(w, req)
}

// Handle mounts the handler. Subtree endpoints (trailing slash) become a
// catch-all parameter, matching ServeMux's subtree semantics.
func (r *Router) Handle(endpoint string, handler http.Handler) {
	method, path := router.SplitEndpoint(endpoint)
	if strings.HasSuffix(path, "/") {
		path += "*rest"
	}
	r.rt.Handler(method, path, handler)
}

func (r *Router) HandleFunc(endpoint string, handler func(http.ResponseWriter, *http.Request)) {
	r.Handle(endpoint, http.HandlerFunc(handler))
}
