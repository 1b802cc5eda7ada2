// Package servemux adapts net/http's ServeMux to the router interface.
package servemux

import (
	"net/http"

	"github.com/caasmo/certherd/router"
)

type ServeMuxRouter struct {
	mux *http.ServeMux
}

func New() router.Router {
	return &ServeMuxRouter{mux: http.NewServeMux()}
}

func (s *ServeMuxRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Handle passes "METHOD /path" endpoints straight through; ServeMux
// understands method patterns natively.
func (s *ServeMuxRouter) Handle(endpoint string, handler http.Handler) {
	s.mux.Handle(endpoint, handler)
}

func (s *ServeMuxRouter) HandleFunc(endpoint string, handler func(http.ResponseWriter, *http.Request)) {
	s.mux.HandleFunc(endpoint, handler)
}
