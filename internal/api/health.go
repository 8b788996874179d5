package api

import (
	"net/http"
)

// healthResponse reports liveness and the backends calls can target.
type healthResponse struct {
	Status   string   `json:"status"`
	Backends []string `json:"backends"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.List()
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Backends: names})
}
