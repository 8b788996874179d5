package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/seantiz/fnworker/internal/backend"
)

// EntryPoint is the export called on every run.
const EntryPoint = "_start"

// Output is what one run wrote to its standard streams.
type Output struct {
	Stdout []byte
	Stderr []byte
}

// Run executes m once with args on stdin and returns its stdout.
func Run(ctx context.Context, eng *Engine, m *Module, args []byte) ([]byte, error) {
	out, err := Capture(ctx, eng, m, args)
	if err != nil {
		return nil, err
	}
	return out.Stdout, nil
}

// Capture executes m once in a fresh instance and returns both streams.
//
// A normal return from the entry point, or proc_exit(0), is success. Any
// other exit or trap is a trap_error whose Output is the stderr bytes.
// Unresolved imports and a missing or mistyped entry point are
// instantiate_errors.
func Capture(ctx context.Context, eng *Engine, m *Module, args []byte) (Output, error) {
	start := time.Now()
	out, kind, err := capture(ctx, eng, m, args)
	runDuration.Observe(time.Since(start).Seconds())
	runsTotal.WithLabelValues(kind).Inc()
	return out, err
}

func capture(ctx context.Context, eng *Engine, m *Module, args []byte) (Output, string, error) {
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(args)).
		WithStdout(stdout).
		WithStderr(stderr).
		WithName("").
		WithStartFunctions()

	inst, err := eng.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return Output{Stderr: stderr.Bytes()}, runInstantiateError, &backend.Error{
			Kind:    backend.KindInstantiate,
			Message: "instantiate module " + m.id,
			Output:  stderr.Bytes(),
			Cause:   err,
		}
	}
	defer inst.Close(ctx)

	entry := inst.ExportedFunction(EntryPoint)
	if entry == nil {
		return Output{}, runInstantiateError, backend.Errorf(backend.KindInstantiate, nil,
			fmt.Sprintf("module %s does not export %s", m.id, EntryPoint))
	}
	def := entry.Definition()
	if len(def.ParamTypes()) != 0 || len(def.ResultTypes()) != 0 {
		return Output{}, runInstantiateError, backend.Errorf(backend.KindInstantiate, nil,
			fmt.Sprintf("module %s: %s must take no parameters and return nothing", m.id, EntryPoint))
	}

	_, err = entry.Call(ctx)
	out := Output{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exit *sys.ExitError
		if errors.As(err, &exit) && exit.ExitCode() == 0 {
			return out, runOK, nil
		}
		return out, runTrap, &backend.Error{
			Kind:    backend.KindTrap,
			Message: "run module " + m.id,
			Output:  out.Stderr,
			Cause:   err,
		}
	}
	return out, runOK, nil
}
