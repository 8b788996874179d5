package model

import "time"

// Invocation status constants. An invocation is received by the bridge,
// dispatched to a background goroutine, then completes as succeeded or failed.
const (
	StatusReceived   = "received"
	StatusDispatched = "dispatched"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
)

// Backend name constants.
const (
	BackendContainer = "container"
	BackendWasm      = "wasm"
)

// Op identifies the operation an invocation performs against a backend.
type Op string

// Operations accepted by the bridge.
const (
	OpPrepare Op = "prepare"
	OpInvoke  Op = "invoke"
	OpLogs    Op = "logs"
	OpWait    Op = "wait"
	OpCleanup Op = "cleanup"
)

// Valid reports whether op is one of the known operations.
func (op Op) Valid() bool {
	switch op {
	case OpPrepare, OpInvoke, OpLogs, OpWait, OpCleanup:
		return true
	}
	return false
}

// Log stream names.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusReceived: {
		StatusDispatched: true,
		StatusFailed:     true,
	},
	StatusDispatched: {
		StatusSucceeded: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether status is a final invocation status.
func Terminal(status string) bool {
	return status == StatusSucceeded || status == StatusFailed
}

// Function describes user code to be provisioned. For the container backend
// Image is a symbolic runtime name and Code an optional code archive; for the
// wasm backend Code is the module binary.
type Function struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
	Image     string `json:"image,omitempty"`
	Code      []byte `json:"code,omitempty"`
	Main      string `json:"main,omitempty"`
}

// Clone returns a deep copy of f.
func (f Function) Clone() Function {
	if f.Code != nil {
		f.Code = append([]byte(nil), f.Code...)
	}
	return f
}

// LogLine is a single line of captured output tagged with its origin stream.
type LogLine struct {
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// StoredLogLine represents a single persisted log line from an invocation.
type StoredLogLine struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Seq          int       `json:"seq"`
	Stream       string    `json:"stream"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invocation records one call handled by the bridge.
type Invocation struct {
	ID         string     `json:"id"`
	Op         Op         `json:"op"`
	Backend    string     `json:"backend"`
	Function   string     `json:"function,omitempty"`
	Runtime    string     `json:"runtime,omitempty"`
	Status     string     `json:"status"`
	Output     []byte     `json:"output,omitempty"`
	ErrorKind  string     `json:"error_kind,omitempty"`
	Error      string     `json:"error,omitempty"`
	DurationMS *int       `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
