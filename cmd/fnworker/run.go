package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/backend/wasm"
	"github.com/seantiz/fnworker/internal/bridge"
	"github.com/seantiz/fnworker/internal/config"
	"github.com/seantiz/fnworker/internal/model"
)

var runCmd = &cobra.Command{
	Use:   "run <module.wasm>",
	Short: "Run a WASI module once",
	Long: `Compile a WASI module and invoke its _start export once.

The JSON arguments are written to the module's stdin; whatever it writes to
stdout is printed. A trap prints the module's stderr and exits non-zero.

  fnworker run hello.wasm --args '{"name":"world"}'`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("args", "{}", "JSON arguments passed on stdin")
	runCmd.Flags().Duration("timeout", 30*time.Second, "Time to wait for the result")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	input, _ := cmd.Flags().GetString("args")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if !json.Valid([]byte(input)) {
		return fmt.Errorf("--args is not valid JSON")
	}
	code, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read module: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	svc, err := newServices(cfg, ":memory:", logger)
	if err != nil {
		return err
	}
	defer svc.close(cmd.Context())

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ref := backend.RuntimeRef{Name: name}

	if _, err := await(svc.bridge, bridge.Call{
		Op:      model.OpPrepare,
		Backend: wasm.BackendName,
		Prepare: backend.PrepareRequest{Name: name, Function: model.Function{Name: name, Code: code}},
	}, timeout); err != nil {
		return err
	}

	out, err := await(svc.bridge, bridge.Call{
		Op:      model.OpInvoke,
		Backend: wasm.BackendName,
		Ref:     ref,
		Args:    []byte(input),
	}, timeout)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && len(be.Output) > 0 {
			cmd.PrintErr(string(be.Output))
		}
		return err
	}

	_, err = cmd.OutOrStdout().Write(out)
	return err
}

// await dispatches call and waits up to timeout for its reply.
func await(br *bridge.Bridge, call bridge.Call, timeout time.Duration) ([]byte, error) {
	id, replies := br.Dispatch(call)
	select {
	case reply := <-replies:
		if !reply.OK() {
			return nil, reply.Err
		}
		return reply.Payload, nil
	case <-time.After(timeout):
		return nil, backend.Errorf(backend.KindTimeout, nil,
			fmt.Sprintf("%s %s: no reply after %s (invocation %s)", call.Op, call.Ref.Name, timeout, id))
	}
}
