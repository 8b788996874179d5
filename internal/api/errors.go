package api

import (
	"net/http"

	"github.com/seantiz/fnworker/internal/backend"
)

// errorResponse is the JSON body of a failed runtime call.
type errorResponse struct {
	Error        string `json:"error"`
	Kind         string `json:"kind"`
	InvocationID string `json:"invocation_id"`
	StatusCode   int    `json:"status_code,omitempty"`
	Output       string `json:"output,omitempty"`
}

// statusForKind maps a backend error kind to an HTTP status.
func statusForKind(kind backend.Kind) int {
	switch kind {
	case backend.KindInvalidRequest, backend.KindCompile:
		return http.StatusBadRequest
	case backend.KindImageNotFound, backend.KindContainerNotFound:
		return http.StatusNotFound
	case backend.KindContainerConflict:
		return http.StatusConflict
	case backend.KindInstantiate, backend.KindTrap, backend.KindAction:
		return http.StatusUnprocessableEntity
	case backend.KindConnectionUnavailable, backend.KindResourceUnavailable:
		return http.StatusServiceUnavailable
	case backend.KindTimeout:
		return http.StatusGatewayTimeout
	case backend.KindEngineProtocol, backend.KindNetworkConfigMissing:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeBackendError(w http.ResponseWriter, id string, err *backend.Error) {
	s.writeJSON(w, statusForKind(err.Kind), errorResponse{
		Error:        err.Error(),
		Kind:         string(err.Kind),
		InvocationID: id,
		StatusCode:   err.StatusCode,
		Output:       string(err.Output),
	})
}
