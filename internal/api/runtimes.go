package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/bridge"
	"github.com/seantiz/fnworker/internal/model"
)

const (
	maxBodySize    = 1 << 20  // 1 MB
	maxPrepareSize = 32 << 20 // wasm modules and code archives
)

// invocationHeader carries the bridge invocation ID on every runtime response.
const invocationHeader = "X-Invocation-Id"

// prepareRequest is the JSON body for POST /v1/runtimes/{backend}. Code is
// base64 encoded.
type prepareRequest struct {
	Name     string         `json:"name"`
	Function model.Function `json:"function"`
	Network  string         `json:"network"`
	Endpoint string         `json:"endpoint"`
	Rootless *bool          `json:"rootless"`
}

// asyncResponse is returned for POST .../invoke/async.
type asyncResponse struct {
	InvocationID string `json:"invocation_id"`
	Status       string `json:"status"`
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxPrepareSize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Function.Name == "" {
		s.writeError(w, http.StatusBadRequest, "function.name is required")
		return
	}

	pr := backend.PrepareRequest{
		Function: req.Function,
		Name:     req.Name,
		Network:  req.Network,
		Endpoint: req.Endpoint,
		Rootless: s.defaults.Rootless,
	}
	if pr.Name == "" {
		pr.Name = req.Function.Name
	}
	if pr.Network == "" {
		pr.Network = s.defaults.Network
	}
	if pr.Endpoint == "" {
		pr.Endpoint = s.defaults.Endpoint
	}
	if req.Rootless != nil {
		pr.Rootless = *req.Rootless
	}

	id, replies := s.bridge.Dispatch(bridge.Call{
		Op:      model.OpPrepare,
		Backend: chi.URLParam(r, "backend"),
		Prepare: pr,
	})
	s.await(w, r, id, replies, http.StatusCreated)
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	call, ok := s.invokeCall(w, r)
	if !ok {
		return
	}
	id, replies := s.bridge.Dispatch(call)
	s.await(w, r, id, replies, http.StatusOK)
}

func (s *Server) handleInvokeAsync(w http.ResponseWriter, r *http.Request) {
	call, ok := s.invokeCall(w, r)
	if !ok {
		return
	}
	// The reply channel is buffered; dropping it leaves the result to the store.
	id, _ := s.bridge.Dispatch(call)
	w.Header().Set(invocationHeader, id)
	s.writeJSON(w, http.StatusAccepted, asyncResponse{InvocationID: id, Status: model.StatusReceived})
}

// invokeCall reads the request body as the invocation arguments.
func (s *Server) invokeCall(w http.ResponseWriter, r *http.Request) (bridge.Call, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	args, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return bridge.Call{}, false
	}
	return bridge.Call{
		Op:      model.OpInvoke,
		Backend: chi.URLParam(r, "backend"),
		Ref:     s.runtimeRef(r),
		Args:    args,
	}, true
}

func (s *Server) handleRuntimeLogs(w http.ResponseWriter, r *http.Request) {
	id, replies := s.bridge.Dispatch(bridge.Call{
		Op:      model.OpLogs,
		Backend: chi.URLParam(r, "backend"),
		Ref:     s.runtimeRef(r),
	})
	s.await(w, r, id, replies, http.StatusOK)
}

func (s *Server) handleWait(w http.ResponseWriter, r *http.Request) {
	id, replies := s.bridge.Dispatch(bridge.Call{
		Op:      model.OpWait,
		Backend: chi.URLParam(r, "backend"),
		Ref:     s.runtimeRef(r),
	})
	s.await(w, r, id, replies, http.StatusOK)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id, replies := s.bridge.Dispatch(bridge.Call{
		Op:      model.OpCleanup,
		Backend: chi.URLParam(r, "backend"),
		Ref:     s.runtimeRef(r),
	})
	s.await(w, r, id, replies, http.StatusNoContent)
}

// runtimeRef builds the runtime reference from the path and the optional
// endpoint query parameter.
func (s *Server) runtimeRef(r *http.Request) backend.RuntimeRef {
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = s.defaults.Endpoint
	}
	return backend.RuntimeRef{Name: chi.URLParam(r, "name"), Endpoint: endpoint}
}

// await blocks until the bridge replies or the client goes away, then writes
// the reply. A client that disconnects does not cancel the call.
func (s *Server) await(w http.ResponseWriter, r *http.Request, id string, replies <-chan bridge.Reply, okStatus int) {
	w.Header().Set(invocationHeader, id)

	var reply bridge.Reply
	select {
	case reply = <-replies:
	case <-r.Context().Done():
		s.logger.Debug("client left before reply", "invocation_id", id)
		return
	}

	if !reply.OK() {
		s.writeBackendError(w, id, reply.Err)
		return
	}
	if okStatus == http.StatusNoContent || len(reply.Payload) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if json.Valid(reply.Payload) {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(okStatus)
	if _, err := w.Write(reply.Payload); err != nil {
		s.logger.Error("write reply", "invocation_id", id, "error", err)
	}
}
