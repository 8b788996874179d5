package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fnworker/internal/backend"
)

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

// handleListRuntimes lists the runtimes a backend currently holds: prepared
// containers or published wasm modules.
func (s *Server) handleListRuntimes(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "backend")
	be, err := s.registry.Resolve(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("backend %q not found", name))
		return
	}
	lister, ok := be.(backend.Lister)
	if !ok {
		s.writeError(w, http.StatusNotImplemented, fmt.Sprintf("backend %q does not list runtimes", name))
		return
	}
	s.writeJSON(w, http.StatusOK, lister.Runtimes())
}
