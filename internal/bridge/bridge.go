package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
	"github.com/seantiz/fnworker/internal/store"
)

// Bridge dispatches backend calls to background goroutines.
type Bridge struct {
	store    store.Store
	registry *backend.Registry
	logger   *slog.Logger
	broker   *LogBroker

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a bridge resolving backends from registry and recording
// invocations in s.
func New(s store.Store, registry *backend.Registry, logger *slog.Logger) *Bridge {
	return &Bridge{
		store:    s,
		registry: registry,
		logger:   logger,
		broker:   NewLogBroker(),
	}
}

// Broker returns the bridge's log broker for SSE subscription.
func (b *Bridge) Broker() *LogBroker {
	return b.broker
}

// Dispatch assigns an invocation ID to call and runs it on a new goroutine.
// It never blocks. The returned channel receives exactly one Reply and is
// then closed. The goroutine works on a copy of call under a private
// context that is not derived from the caller's.
func (b *Bridge) Dispatch(call Call) (string, <-chan Reply) {
	id := model.NewID()
	replies := make(chan Reply, 1)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		replies <- errorReply(id, backend.Errorf(backend.KindInternalDispatch, nil, "bridge is closed"))
		close(replies)
		repliesTotal.WithLabelValues(opLabel(string(call.Op)), TagError).Inc()
		return id, replies
	}

	c := call.clone()
	inFlight.Inc()
	b.wg.Go(func() {
		defer inFlight.Dec()
		defer close(replies)

		sent := false
		defer func() {
			if p := recover(); p != nil && !sent {
				b.logger.Error("invocation goroutine panicked", "invocation_id", id, "panic", p)
				replies <- errorReply(id, backend.Errorf(backend.KindInternalDispatch, nil, fmt.Sprintf("panic: %v", p)))
			}
		}()

		replies <- b.run(id, c)
		sent = true
	})
	return id, replies
}

// Wait blocks until all in-flight calls have replied.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close rejects further dispatches and waits for in-flight calls.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
}

// run drives one invocation through its recorded lifecycle and returns the
// reply to deliver.
func (b *Bridge) run(id string, call Call) Reply {
	defer b.broker.Close(id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	start := time.Now().UTC()
	inv := &model.Invocation{
		ID:        id,
		Op:        call.Op,
		Backend:   call.Backend,
		Function:  call.Prepare.Function.Name,
		Runtime:   call.runtimeName(),
		Status:    model.StatusReceived,
		CreatedAt: start,
	}
	if err := b.store.CreateInvocation(ctx, inv); err != nil {
		b.logger.Error("failed to record invocation", "invocation_id", id, "error", err)
	}
	if err := b.store.UpdateInvocationStatus(ctx, id, model.StatusDispatched); err != nil {
		b.logger.Error("failed to transition to dispatched", "invocation_id", id, "error", err)
	}

	reply := b.execute(ctx, id, call)

	b.finish(ctx, inv, start, reply)
	dispatchDuration.WithLabelValues(opLabel(string(call.Op))).Observe(time.Since(start).Seconds())
	repliesTotal.WithLabelValues(opLabel(string(call.Op)), reply.Tag).Inc()
	return reply
}

// execute performs the call, converting a panic into an internal dispatch
// error reply.
func (b *Bridge) execute(ctx context.Context, id string, call Call) (reply Reply) {
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("dispatch panicked",
				"invocation_id", id,
				"op", call.Op,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			reply = errorReply(id, backend.Errorf(backend.KindInternalDispatch, nil, fmt.Sprintf("panic: %v", p)))
		}
	}()

	payload, err := b.perform(ctx, id, call)
	if err != nil {
		return errorReply(id, err)
	}
	return okReply(id, payload)
}

func (b *Bridge) perform(ctx context.Context, id string, call Call) ([]byte, error) {
	if !call.Op.Valid() {
		return nil, backend.Errorf(backend.KindInvalidRequest, nil, fmt.Sprintf("unknown operation %q", call.Op))
	}
	be, err := b.registry.Resolve(call.Backend)
	if err != nil {
		return nil, err
	}

	switch call.Op {
	case model.OpPrepare:
		rt, err := be.Prepare(ctx, call.Prepare)
		if err != nil {
			return nil, err
		}
		return json.Marshal(rt)

	case model.OpInvoke:
		out, err := be.Invoke(ctx, call.Ref, call.Args)
		if err != nil {
			if berr := backend.AsError(err); len(berr.Output) > 0 {
				b.emit(ctx, id, splitOutput(model.StreamStderr, berr.Output))
			}
			return nil, err
		}
		return out, nil

	case model.OpLogs:
		lines, err := be.Logs(ctx, call.Ref)
		if err != nil {
			return nil, err
		}
		b.emit(ctx, id, lines)
		if lines == nil {
			lines = []model.LogLine{}
		}
		return json.Marshal(lines)

	case model.OpWait:
		wr, ok := be.(backend.Waiter)
		if !ok {
			return nil, backend.Errorf(backend.KindInvalidRequest, nil, fmt.Sprintf("backend %q does not support wait", call.Backend))
		}
		code, err := wr.Wait(ctx, call.Ref)
		if err != nil {
			return nil, err
		}
		return json.Marshal(backend.WaitResult{ExitCode: code})

	default: // model.OpCleanup
		return nil, be.Cleanup(ctx, call.Ref)
	}
}

// emit persists lines for the invocation and publishes them to subscribers.
func (b *Bridge) emit(ctx context.Context, id string, lines []model.LogLine) {
	for seq, line := range lines {
		if err := b.store.InsertLogLine(ctx, id, seq, line); err != nil {
			b.logger.Error("failed to persist log line", "invocation_id", id, "seq", seq, "error", err)
		}
		b.broker.Publish(id, line)
	}
}

// finish records the terminal state of an invocation.
func (b *Bridge) finish(ctx context.Context, inv *model.Invocation, start time.Time, reply Reply) {
	now := time.Now().UTC()
	dur := int(now.Sub(start).Milliseconds())

	inv.Status = model.StatusSucceeded
	inv.DurationMS = &dur
	inv.StartedAt = &start
	inv.FinishedAt = &now
	if reply.OK() {
		inv.Output = reply.Payload
	} else {
		inv.Status = model.StatusFailed
		inv.Output = reply.Err.Output
		inv.ErrorKind = string(reply.Err.Kind)
		inv.Error = reply.Err.Error()
		b.logger.Warn("invocation failed",
			"invocation_id", inv.ID,
			"op", inv.Op,
			"backend", inv.Backend,
			"error_kind", inv.ErrorKind,
			"error", inv.Error,
		)
	}

	if err := b.store.UpdateInvocation(ctx, inv); err != nil {
		b.logger.Error("failed to record invocation result", "invocation_id", inv.ID, "error", err)
	}
}

// splitOutput tags each line of captured output with stream.
func splitOutput(stream string, data []byte) []model.LogLine {
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil
	}
	parts := strings.Split(text, "\n")
	lines := make([]model.LogLine, len(parts))
	for i, p := range parts {
		lines[i] = model.LogLine{Stream: stream, Line: p}
	}
	return lines
}
