package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/seantiz/fnworker/internal/backend"
)

// ModuleInfo describes a published module.
type ModuleInfo struct {
	ID     string `json:"id"`
	Digest string `json:"digest"`
	Size   int    `json:"size"`
}

// Registry owns the shared Engine and the published modules. The mutex
// guards lookup and publication only; compilation and runs happen outside it.
type Registry struct {
	cfg    EngineConfig
	logger *slog.Logger

	mu      sync.Mutex
	engine  *Engine
	modules map[string]*Module
	closed  bool
}

// NewRegistry creates an empty registry. The engine is created on first use.
func NewRegistry(cfg EngineConfig, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		modules: make(map[string]*Module),
	}
}

// Engine returns the shared engine, creating it on first call. A failed
// creation is reported to this caller and retried by the next one.
func (r *Registry) Engine(ctx context.Context) (*Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errClosed()
	}
	if r.engine != nil {
		return r.engine, nil
	}

	eng, err := newEngine(ctx, r.cfg)
	if err != nil {
		return nil, backend.Errorf(backend.KindResourceUnavailable, err, "create wasm engine")
	}
	r.engine = eng
	r.logger.Info("wasm engine created",
		"memory_limit_pages", r.cfg.MemoryLimitPages,
		"cache_dir", r.cfg.CacheDir,
	)
	return eng, nil
}

// AcquireModule returns the module published under id with an extra
// reference held for the caller, who must Release it.
func (r *Registry) AcquireModule(id string) (*Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errClosed()
	}
	m, ok := r.modules[id]
	if !ok {
		return nil, backend.Errorf(backend.KindInvalidRequest, nil, fmt.Sprintf("module %q is not published", id))
	}
	m.retain()
	return m, nil
}

// Publish makes m the module for its id, replacing and releasing any
// previous one. The registry takes over the caller's reference.
func (r *Registry) Publish(ctx context.Context, m *Module) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		m.Release(ctx)
		return errClosed()
	}
	old := r.modules[m.id]
	r.modules[m.id] = m
	r.mu.Unlock()

	if old != nil {
		old.Release(ctx)
	} else {
		publishedModules.Inc()
	}
	r.logger.Info("module published", "module", m.id, "digest", m.digest, "replaced", old != nil)
	return nil
}

// Remove unpublishes the module for id and releases the registry's
// reference. In-flight runs keep their own references.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errClosed()
	}
	m, ok := r.modules[id]
	if ok {
		delete(r.modules, id)
	}
	r.mu.Unlock()

	if !ok {
		return backend.Errorf(backend.KindInvalidRequest, nil, fmt.Sprintf("module %q is not published", id))
	}
	m.Release(ctx)
	publishedModules.Dec()
	r.logger.Info("module removed", "module", id)
	return nil
}

// List returns the published modules sorted by id.
func (r *Registry) List() []ModuleInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]ModuleInfo, 0, len(r.modules))
	for _, m := range r.modules {
		infos = append(infos, ModuleInfo{ID: m.id, Digest: m.digest, Size: m.size})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Close releases every module and the engine. Later calls fail with
// resource_unavailable.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	modules := r.modules
	r.modules = nil
	eng := r.engine
	r.engine = nil
	r.mu.Unlock()

	for _, m := range modules {
		m.Release(ctx)
		publishedModules.Dec()
	}
	if eng != nil {
		return eng.close(ctx)
	}
	return nil
}

func errClosed() error {
	return backend.Errorf(backend.KindResourceUnavailable, nil, "wasm registry is closed")
}
