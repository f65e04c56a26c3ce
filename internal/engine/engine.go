package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/pool"
	"github.com/seantiz/enclave/internal/store"
	"github.com/seantiz/enclave/internal/task"
)

// DefaultTimeout bounds how long a submitted task may run before its record
// is marked failed. The task goroutine itself is not interrupted; the pool
// worker finishes or fails on its own.
const DefaultTimeout = 30 * time.Second

// ErrUnknownFunction is returned by Submit when no callable is registered
// under the requested function name.
var ErrUnknownFunction = errors.New("unknown task function")

// ErrBadArguments is returned by Submit when the args or kwargs payload
// does not decode as a JSON array or object respectively.
var ErrBadArguments = errors.New("invalid task arguments")

// Engine orchestrates asynchronous task execution on top of the pool.
type Engine struct {
	store   store.Store
	pool    *pool.Pool
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
	broker  *EventBroker
}

// NewEngine creates a new execution engine.
func NewEngine(s store.Store, p *pool.Pool, logger *slog.Logger) *Engine {
	return &Engine{
		store:   s,
		pool:    p,
		logger:  logger,
		timeout: DefaultTimeout,
		broker:  NewEventBroker(),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Submit validates the task, stores it with status "pending", and launches
// asynchronous execution in a goroutine. Unknown function names and
// malformed argument payloads fail here, before anything is persisted.
func (e *Engine) Submit(ctx context.Context, rec *model.TaskRecord) error {
	fn, ok := task.Named(rec.Fn)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownFunction, rec.Fn)
	}

	var args []any
	if len(rec.Args) > 0 {
		if err := json.Unmarshal(rec.Args, &args); err != nil {
			return fmt.Errorf("%w: decode args: %v", ErrBadArguments, err)
		}
	}
	var kwargs map[string]any
	if len(rec.Kwargs) > 0 {
		if err := json.Unmarshal(rec.Kwargs, &kwargs); err != nil {
			return fmt.Errorf("%w: decode kwargs: %v", ErrBadArguments, err)
		}
	}

	if err := e.store.CreateTask(ctx, rec); err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	id := rec.ID
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(id, fn, args, kwargs)
	}()

	return nil
}

// Wait blocks until all in-flight task goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// execute runs the task lifecycle in a goroutine: pending -> running ->
// completed/failed.
func (e *Engine) execute(id string, fn task.Callable, args []any, kwargs map[string]any) {
	// Close the event stream when execution finishes, regardless of outcome.
	defer e.broker.Close(id)

	if err := e.store.UpdateTaskStatus(context.Background(), id, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "task_id", id, "error", err)
		e.finishFailed(id, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	e.broker.Publish(id, Event{Status: model.StatusRunning})

	// Capture start time immediately after the running transition so that
	// started_at stays consistent across success and failure paths.
	start := time.Now().UTC()

	fut, err := e.pool.Submit(fn, args, kwargs)
	if err != nil {
		e.finishFailed(id, &start, fmt.Sprintf("submit to pool: %v", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	value, err := fut.Wait(ctx)
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		errMsg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			errMsg = fmt.Sprintf("task timed out after %s", e.timeout)
		}
		e.finishFailed(id, &start, errMsg)
		return
	}

	result, err := json.Marshal(value)
	if err != nil {
		e.finishFailed(id, &start, fmt.Sprintf("encode result: %v", err))
		return
	}

	now := time.Now().UTC()
	completed := &model.TaskRecord{
		ID:         id,
		Status:     model.StatusCompleted,
		Result:     result,
		DurationMS: &durationMS,
		StartedAt:  &start,
		FinishedAt: &now,
	}
	if err := e.store.UpdateTask(context.Background(), completed); err != nil {
		e.logger.Error("failed to update completed task", "task_id", id, "error", err)
	}
	e.broker.Publish(id, Event{Status: model.StatusCompleted, DurationMS: &durationMS})
}

// finishFailed marks a task as failed with the given error message.
// startedAt may be nil if execution never started.
func (e *Engine) finishFailed(id string, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	rec := &model.TaskRecord{
		ID:         id,
		Status:     model.StatusFailed,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}
	if err := e.store.UpdateTask(context.Background(), rec); err != nil {
		e.logger.Error("failed to update failed task", "task_id", id, "error", err)
	}
	e.broker.Publish(id, Event{Status: model.StatusFailed, Error: errMsg, DurationMS: &durationMS})
}
