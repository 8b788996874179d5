package backend

import (
	"context"

	"github.com/seantiz/fnworker/internal/model"
)

// Backend is the interface that all isolation backends must implement.
// The container and wasm backends are capability-equivalent: each can
// prepare a runtime for a function, invoke it, report its logs and clean it up.
type Backend interface {
	// Prepare provisions a runtime for req.Function and returns its descriptor.
	Prepare(ctx context.Context, req PrepareRequest) (Runtime, error)

	// Invoke runs the prepared runtime once with JSON-encoded args and returns
	// its output. A failed run returns an *Error whose Output holds the
	// captured diagnostic bytes.
	Invoke(ctx context.Context, ref RuntimeRef, args []byte) ([]byte, error)

	// Logs returns the captured output lines of the runtime, tagged by stream.
	Logs(ctx context.Context, ref RuntimeRef) ([]model.LogLine, error)

	// Cleanup tears the runtime down.
	Cleanup(ctx context.Context, ref RuntimeRef) error

	// Capabilities reports what this backend supports.
	Capabilities() Capabilities
}

// Waiter is implemented by backends whose runtimes exit on their own. Wait
// blocks until the runtime stops and returns its exit code.
type Waiter interface {
	Wait(ctx context.Context, ref RuntimeRef) (int64, error)
}

// Lister is implemented by backends that can enumerate prepared runtimes.
type Lister interface {
	Runtimes() []Runtime
}

// WaitResult is the payload of a completed wait.
type WaitResult struct {
	ExitCode int64 `json:"exit_code"`
}

// PrepareRequest carries everything a backend needs to provision a runtime.
// Endpoint, Network and Rootless are per-call settings supplied by the caller;
// backends never fall back to process configuration for them.
type PrepareRequest struct {
	Function model.Function `json:"function"`
	Name     string         `json:"name"`
	Network  string         `json:"network,omitempty"`
	Endpoint string         `json:"endpoint,omitempty"`
	Rootless bool           `json:"rootless"`
}

// RuntimeRef names a prepared runtime. Endpoint is the container engine
// endpoint and is ignored by in-process backends.
type RuntimeRef struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Runtime describes a prepared runtime. For containers it is the container
// descriptor with the resolved endpoint; for wasm it names the published
// module and its digest.
type Runtime struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	Image   string `json:"image,omitempty"`
	Network string `json:"network,omitempty"`
	Host    string `json:"host,omitempty"`
	Port    string `json:"port,omitempty"`
	Digest  string `json:"digest,omitempty"`
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name              string   `json:"name"`
	SupportedRuntimes []string `json:"supported_runtimes"`
	Operations        []string `json:"operations"`
}
