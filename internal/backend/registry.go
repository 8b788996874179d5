package backend

import (
	"fmt"
	"sort"
	"sync"
)

// BackendInfo pairs a backend name with its capabilities.
type BackendInfo struct {
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends and resolves the one an invocation
// targets by name.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the registry under the given name.
func (r *Registry) Register(name string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[name] = b
}

// Resolve returns the backend registered under name. An unknown name is an
// invalid request, never a fallback to another backend.
func (r *Registry) Resolve(name string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[name]
	if !ok {
		return nil, Errorf(KindInvalidRequest, nil, fmt.Sprintf("backend %q is not registered", name))
	}
	return b, nil
}

// List returns information about all registered backends, sorted by name
// for a stable API response.
func (r *Registry) List() []BackendInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]BackendInfo, 0, len(r.backends))
	for name, b := range r.backends {
		infos = append(infos, BackendInfo{
			Name:         name,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}
