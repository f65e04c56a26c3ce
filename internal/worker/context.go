// Package worker implements the isolated execution context at the heart of
// the pool: one runtime handle paired with one results channel handle, owned
// by a single worker for its entire life. The context drives the full task
// protocol: initialization, shared-state injection, per-task dispatch and
// envelope retrieval, and deterministic teardown.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/task"
)

// Context owns one isolated runtime and one results channel. A Context is
// bound to a single worker goroutine: Initialize, Run, and Finalize must
// never be called concurrently.
type Context struct {
	st *ctxState
}

// ctxState is separated from Context so the abandonment cleanup can reach
// the handles without keeping the Context itself alive.
type ctxState struct {
	sandboxes sandbox.Service
	channels  *channel.Service
	initTask  task.Encoded
	shared    map[string]any

	runtimeID sandbox.Handle
	resultsID channel.Handle
}

// newContext builds an uninitialized context and arranges for finalization
// if it is abandoned while still holding handles.
func newContext(sb sandbox.Service, ch *channel.Service, initTask task.Encoded, shared map[string]any) *Context {
	st := &ctxState{
		sandboxes: sb,
		channels:  ch,
		initTask:  initTask,
		shared:    shared,
	}
	c := &Context{st: st}
	runtime.SetFinalizer(c, func(c *Context) { c.st.finalize() })
	return c
}

// Initialize allocates the context's runtime and results channel, injects
// the shared mapping, and runs the initializer task if one was configured.
// On any failure the context is finalized before the error is returned, so
// partially allocated handles never leak.
func (c *Context) Initialize() error {
	if c.st.runtimeID != "" {
		return errors.New("context already initialized")
	}

	if err := c.st.initialize(); err != nil {
		c.st.finalize()
		return &InitializationError{Err: err}
	}
	return nil
}

func (st *ctxState) initialize() error {
	id, err := st.sandboxes.Create(context.Background(), true)
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	st.runtimeID = id

	if err := st.sandboxes.Incref(id); err != nil {
		return fmt.Errorf("incref runtime: %w", err)
	}

	st.resultsID = st.channels.Create(0)

	info, err := st.sandboxes.Exec(id, sandbox.Program{Op: sandbox.OpBootstrap}, true)
	if err != nil {
		return fmt.Errorf("bootstrap runtime: %w", err)
	}
	if info != nil {
		return &ExecutionFailed{Info: *info}
	}

	if len(st.shared) > 0 {
		if err := st.sandboxes.SetBindings(id, st.shared, true); err != nil {
			return fmt.Errorf("inject shared state: %w", err)
		}
	}

	if st.initTask != nil {
		if _, err := st.run(st.initTask); err != nil {
			return fmt.Errorf("run initializer: %w", err)
		}
	}
	return nil
}

// Run executes one encoded task inside the context's runtime and blocks
// until its result envelope is retrieved. It returns the task's value, or
// the reconstructed remote error, chained from an ExecutionFailed wrapper
// when the execution call itself reported the failure as uncaught.
func (c *Context) Run(blob task.Encoded) (any, error) {
	if c.st.runtimeID == "" {
		return nil, errors.New("context is not initialized")
	}
	return c.st.run(blob)
}

func (st *ctxState) run(blob task.Encoded) (any, error) {
	info, err := st.sandboxes.Exec(st.runtimeID, sandbox.Program{
		Op:      sandbox.OpCall,
		Task:    blob,
		Results: st.resultsID,
	}, true)
	if err != nil {
		return nil, err
	}

	var failed *ExecutionFailed
	if info != nil {
		failed = &ExecutionFailed{Info: *info}
	}

	// Exactly one envelope is retrieved per task, whether or not the
	// execution call reported an uncaught failure. A transient-empty report
	// is retried immediately; a destroyed channel means the context has been
	// torn down underneath us and is fatal.
	for {
		env, marker, err := st.channels.Get(st.resultsID)
		if errors.Is(err, channel.ErrEmpty) {
			retrievalRetries.Inc()
			runtime.Gosched()
			continue
		}
		if err != nil {
			return nil, err
		}
		if marker != 0 {
			return nil, fmt.Errorf("unexpected envelope marker %d", marker)
		}
		if env.Err != nil {
			return nil, &RemoteError{Info: *env.Err, Dispatch: failed}
		}
		if failed != nil {
			// An uncaught failure with a value envelope should not happen;
			// surface the dispatch failure rather than a bogus value.
			return nil, failed
		}
		return env.Value, nil
	}
}

// Finalize releases the context's channel and runtime handles. It is
// idempotent: finalizing an already-finalized context is a no-op, and
// already-released handles are treated as such.
func (c *Context) Finalize() error {
	return c.st.finalize()
}

func (st *ctxState) finalize() error {
	runtimeID := st.runtimeID
	resultsID := st.resultsID
	st.runtimeID = ""
	st.resultsID = ""

	var errs []error
	if resultsID != "" {
		if err := st.channels.Destroy(resultsID); err != nil && !errors.Is(err, channel.ErrNotFound) {
			errs = append(errs, fmt.Errorf("destroy results channel: %w", err))
		}
	}
	if runtimeID != "" {
		if err := st.sandboxes.Decref(runtimeID); err != nil && !errors.Is(err, sandbox.ErrNotFound) {
			errs = append(errs, fmt.Errorf("release runtime: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Handles reports the context's current runtime and channel handles. Both
// are empty before initialization and after finalization.
func (c *Context) Handles() (sandbox.Handle, channel.Handle) {
	return c.st.runtimeID, c.st.resultsID
}
