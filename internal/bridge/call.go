package bridge

import (
	"github.com/seantiz/fnworker/internal/backend"
	"github.com/seantiz/fnworker/internal/model"
)

// Reply tags.
const (
	TagOK    = "ok"
	TagError = "error"
)

// Call is one backend operation handed to the bridge. Prepare is read for
// OpPrepare; Ref for every other op; Args for OpInvoke.
type Call struct {
	Op      model.Op
	Backend string
	Prepare backend.PrepareRequest
	Ref     backend.RuntimeRef
	Args    []byte
}

// clone deep-copies the byte slices so the caller may reuse its buffers.
func (c Call) clone() Call {
	c.Prepare.Function = c.Prepare.Function.Clone()
	if c.Args != nil {
		c.Args = append([]byte(nil), c.Args...)
	}
	return c
}

// runtimeName is the runtime the call targets, for the invocation record.
func (c Call) runtimeName() string {
	if c.Op == model.OpPrepare {
		if c.Prepare.Name != "" {
			return c.Prepare.Name
		}
		return c.Prepare.Function.Name
	}
	return c.Ref.Name
}

// Reply is the single result delivered for a dispatched call.
//
// On TagOK, Payload holds the JSON runtime descriptor for prepare, the raw
// function output for invoke, the JSON log lines for logs, and nothing for
// cleanup, and the JSON exit code for wait. On TagError, Err is set.
type Reply struct {
	ID      string
	Tag     string
	Payload []byte
	Err     *backend.Error
}

// OK reports whether the reply carries a success.
func (r Reply) OK() bool {
	return r.Tag == TagOK
}

func okReply(id string, payload []byte) Reply {
	return Reply{ID: id, Tag: TagOK, Payload: payload}
}

func errorReply(id string, err error) Reply {
	return Reply{ID: id, Tag: TagError, Err: backend.AsError(err)}
}
