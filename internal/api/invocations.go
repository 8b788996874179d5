package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fnworker/internal/model"
	"github.com/seantiz/fnworker/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// listInvocationsResponse wraps the paginated list response.
type listInvocationsResponse struct {
	Invocations []*model.Invocation `json:"invocations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	invocations, total, err := s.store.ListInvocations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}

	if invocations == nil {
		invocations = []*model.Invocation{}
	}

	s.writeJSON(w, http.StatusOK, listInvocationsResponse{
		Invocations: invocations,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
