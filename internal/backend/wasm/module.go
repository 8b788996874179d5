package wasm

import (
	"context"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
)

// Module is a compiled, validated module. It is immutable once published and
// reference counted: the compiled code is released when the last holder
// calls Release.
type Module struct {
	id       string
	digest   string
	size     int
	compiled wazero.CompiledModule
	refs     atomic.Int32
}

func newModule(id, digest string, size int, compiled wazero.CompiledModule) *Module {
	m := &Module{id: id, digest: digest, size: size, compiled: compiled}
	m.refs.Store(1)
	return m
}

// ID returns the function id the module was compiled for.
func (m *Module) ID() string { return m.id }

// Digest returns the sha256 digest of the module bytes.
func (m *Module) Digest() string { return m.digest }

// Size returns the length of the module bytes.
func (m *Module) Size() int { return m.size }

func (m *Module) retain() {
	m.refs.Add(1)
}

// Release drops one reference, closing the compiled code on the last one.
func (m *Module) Release(ctx context.Context) {
	if m.refs.Add(-1) == 0 {
		m.compiled.Close(ctx)
	}
}
