package wasm

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

// BackendName is the name used when registering with the backend registry.
const BackendName = "wasm"

// Runtime is the only import namespace modules may link against.
const Runtime = "wasi_snapshot_preview1"

// Backend implements backend.Backend on top of a Registry.
type Backend struct {
	registry *Registry
	logger   *slog.Logger

	mu   sync.Mutex
	logs map[string][]model.LogLine // module id → lines of the latest run
}

// NewBackend creates a wasm backend serving modules from registry.
func NewBackend(registry *Registry, logger *slog.Logger) *Backend {
	return &Backend{
		registry: registry,
		logger:   logger,
		logs:     make(map[string][]model.LogLine),
	}
}

// Runtimes returns the published modules sorted by id.
func (b *Backend) Runtimes() []backend.Runtime {
	infos := b.registry.List()
	rts := make([]backend.Runtime, 0, len(infos))
	for _, info := range infos {
		rts = append(rts, backend.Runtime{Name: info.ID, Backend: BackendName, Digest: info.Digest})
	}
	return rts
}

// Prepare compiles the function's module and publishes it under req.Name,
// or the function name when req.Name is empty.
func (b *Backend) Prepare(ctx context.Context, req backend.PrepareRequest) (backend.Runtime, error) {
	id := req.Name
	if id == "" {
		id = req.Function.Name
	}
	if id == "" {
		return backend.Runtime{}, backend.Errorf(backend.KindInvalidRequest, nil, "module id is required")
	}

	eng, err := b.registry.Engine(ctx)
	if err != nil {
		return backend.Runtime{}, err
	}
	m, err := Compile(ctx, eng, id, req.Function.Code)
	if err != nil {
		return backend.Runtime{}, err
	}
	if err := b.registry.Publish(ctx, m); err != nil {
		return backend.Runtime{}, err
	}

	return backend.Runtime{
		Name:    id,
		Backend: BackendName,
		Digest:  m.Digest(),
	}, nil
}

// Invoke runs the published module once with args on stdin.
func (b *Backend) Invoke(ctx context.Context, ref backend.RuntimeRef, args []byte) ([]byte, error) {
	eng, err := b.registry.Engine(ctx)
	if err != nil {
		return nil, err
	}
	m, err := b.registry.AcquireModule(ref.Name)
	if err != nil {
		return nil, err
	}
	defer m.Release(ctx)

	out, err := Capture(ctx, eng, m, args)
	b.record(ref.Name, out)
	if err != nil {
		b.logger.Debug("module run failed", "module", ref.Name, "error", err)
		return nil, err
	}
	return out.Stdout, nil
}

// Logs returns the output lines of the latest run of the module.
func (b *Backend) Logs(_ context.Context, ref backend.RuntimeRef) ([]model.LogLine, error) {
	b.mu.Lock()
	lines, ok := b.logs[ref.Name]
	b.mu.Unlock()
	if ok {
		return append([]model.LogLine(nil), lines...), nil
	}

	m, err := b.registry.AcquireModule(ref.Name)
	if err != nil {
		return nil, err
	}
	m.Release(context.Background())
	return []model.LogLine{}, nil
}

// Cleanup unpublishes the module and forgets its logs.
func (b *Backend) Cleanup(ctx context.Context, ref backend.RuntimeRef) error {
	if err := b.registry.Remove(ctx, ref.Name); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.logs, ref.Name)
	b.mu.Unlock()
	return nil
}

// Capabilities reports the supported import namespace and operations.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:              BackendName,
		SupportedRuntimes: []string{Runtime},
		Operations: []string{
			string(model.OpPrepare),
			string(model.OpInvoke),
			string(model.OpLogs),
			string(model.OpCleanup),
		},
	}
}

func (b *Backend) record(id string, out Output) {
	lines := append(splitLines(model.StreamStdout, out.Stdout), splitLines(model.StreamStderr, out.Stderr)...)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs[id] = lines
}

// splitLines tags each line of data with stream. A trailing newline does not
// produce an empty line.
func splitLines(stream string, data []byte) []model.LogLine {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return []model.LogLine{}
	}
	parts := strings.Split(text, "\n")
	lines := make([]model.LogLine, len(parts))
	for i, p := range parts {
		lines[i] = model.LogLine{Stream: stream, Line: p}
	}
	return lines
}
