// Package sandbox defines the isolated runtime service: an opaque,
// reference-counted execution sandbox identified by a handle. Implementations
// provide goroutine-confined in-process runtimes (InProc) or per-runtime OS
// subprocesses (the proc subpackage); contexts drive either through the same
// Service interface.
package sandbox

import (
	"context"
	"errors"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/task"
)

// ErrNotFound is returned by operations on a handle whose runtime has
// already been destroyed. Callers tearing a context down treat it as
// already-released.
var ErrNotFound = errors.New("sandbox runtime not found")

// Handle identifies an isolated runtime. The empty string is the unset handle.
type Handle string

// Program kinds understood by a runtime.
const (
	// OpBootstrap makes the task-dispatch entry point available inside the
	// runtime. It must run before any call program.
	OpBootstrap = "bootstrap"
	// OpCall decodes an encoded task and invokes it, writing exactly one
	// result envelope to the results channel.
	OpCall = "call"
	// OpBind injects top-level bindings into the runtime's namespace.
	OpBind = "bind"
)

// Program is the unit of execution shipped into an isolated runtime.
type Program struct {
	Op       string         `json:"op"`
	Task     task.Encoded   `json:"task,omitempty"`
	Results  channel.Handle `json:"results,omitempty"`
	Bindings map[string]any `json:"bindings,omitempty"`
}

// Service is the isolated runtime contract. Exec reports an in-runtime
// uncaught failure as a structured *model.ExcInfo rather than an error; the
// error return is reserved for host-level failures such as a destroyed
// handle.
type Service interface {
	// Create allocates a new runtime. When reqRefs is true the runtime is
	// reference counted and lives until its count drops to zero.
	Create(ctx context.Context, reqRefs bool) (Handle, error)

	// Incref adds one reference to a reference-counted runtime.
	Incref(h Handle) error

	// Decref drops one reference, destroying the runtime when the count
	// reaches zero. Decref on an already-destroyed handle fails with
	// ErrNotFound.
	Decref(h Handle) error

	// Exec runs a program inside the runtime and returns structured failure
	// info if the program raised an uncaught error.
	Exec(h Handle, p Program, restricted bool) (*model.ExcInfo, error)

	// SetBindings injects top-level bindings into the runtime's namespace,
	// marking them non-overridable when restricted is true.
	SetBindings(h Handle, bindings map[string]any, restricted bool) error
}

// Dispatch executes one encoded task against ns and delivers exactly one
// envelope through put. Failures in the decode step and the call step are
// each captured and written out as error envelopes; the write of a success
// envelope is itself guarded, so a failure to deliver does not silently
// disappear. The returned ExcInfo is non-nil whenever the task left an
// uncaught failure behind, matching what the envelope carries.
func Dispatch(ns *task.Namespace, blob task.Encoded, put func(model.Envelope) error) *model.ExcInfo {
	fn, args, kwargs, err := task.Decode(blob)
	if err != nil {
		info := model.CaptureErr(err)
		put(model.Envelope{Err: info})
		return info
	}

	res, callErr := invoke(fn, ns, args, kwargs)
	if callErr != nil {
		put(model.Envelope{Err: callErr})
		return callErr
	}

	if err := put(model.Envelope{Value: res}); err != nil {
		info := model.CaptureErr(err)
		put(model.Envelope{Err: info})
		return info
	}
	return nil
}

// invoke calls the task function, converting both returned errors and
// panics into captured failure info.
func invoke(fn task.Func, ns *task.Namespace, args []any, kwargs map[string]any) (res any, info *model.ExcInfo) {
	defer func() {
		if v := recover(); v != nil {
			res = nil
			info = model.CapturePanic(v)
		}
	}()
	res, err := fn(ns, args, kwargs)
	if err != nil {
		return nil, model.CaptureErr(err)
	}
	return res, nil
}
