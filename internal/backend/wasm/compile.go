package wasm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/seantiz/fnworker/internal/backend"
)

// Compile validates and compiles module bytes for function id. Invalid
// bytes yield a compile_error carrying the runtime's diagnostic.
func Compile(ctx context.Context, eng *Engine, id string, wasm []byte) (m *Module, err error) {
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			m, err = nil, backend.Errorf(backend.KindCompile, nil, fmt.Sprintf("compile module %s: %v", id, p))
		}
		compileDuration.Observe(time.Since(start).Seconds())
	}()

	if len(wasm) == 0 {
		return nil, backend.Errorf(backend.KindCompile, nil, fmt.Sprintf("compile module %s: empty binary", id))
	}

	compiled, err := eng.runtime.CompileModule(ctx, wasm)
	if err != nil {
		return nil, backend.Errorf(backend.KindCompile, err, "compile module "+id)
	}

	sum := sha256.Sum256(wasm)
	return newModule(id, "sha256:"+hex.EncodeToString(sum[:]), len(wasm), compiled), nil
}
