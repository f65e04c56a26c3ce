package worker

import (
	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/task"
)

// EncodeFunc turns a callable reference plus arguments into an encoded
// task. Encoding failures surface synchronously to the submitter, before
// any runtime or channel is involved.
type EncodeFunc func(fn any, args []any, kwargs map[string]any) (task.Encoded, error)

// Factory produces a fresh, uninitialized context. The pool invokes it once
// per worker.
type Factory func() *Context

// Prepare is called once at pool construction. It encodes the initializer
// (if any) exactly once and returns the per-worker context factory together
// with the encoder the pool uses for every submitted task. An initializer
// script combined with non-empty initargs fails with
// InvalidInitializerArgsError.
func Prepare(sb sandbox.Service, ch *channel.Service, initializer any, initargs []any, shared map[string]any) (Factory, EncodeFunc, error) {
	var initTask task.Encoded
	if initializer != nil {
		if _, isScript := initializer.(string); isScript && len(initargs) > 0 {
			return nil, nil, &InvalidInitializerArgsError{Args: initargs}
		}
		blob, err := task.Encode(initializer, initargs, nil)
		if err != nil {
			return nil, nil, err
		}
		initTask = blob
	}

	factory := func() *Context {
		return newContext(sb, ch, initTask, shared)
	}
	return factory, task.Encode, nil
}
