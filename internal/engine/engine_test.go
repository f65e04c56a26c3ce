package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/engine"
	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/pool"
	"github.com/seantiz/enclave/internal/sandbox"
	"github.com/seantiz/enclave/internal/store"
	"github.com/seantiz/enclave/internal/task"
)

var (
	enShout = task.Register("enclave.engine.shout", func(_ *task.Namespace, args []any, _ map[string]any) (any, error) {
		return strings.ToUpper(args[0].(string)), nil
	})
	enFail = task.Register("enclave.engine.fail", func(_ *task.Namespace, _ []any, _ map[string]any) (any, error) {
		return nil, errors.New("task exploded")
	})
)

func newTestEngine(t *testing.T) (*engine.Engine, store.Store) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	channels := channel.NewService()
	p, err := pool.New(sandbox.NewInProc(channels), channels, pool.Config{Size: 2})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(func() { p.Shutdown(true) })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return engine.NewEngine(s, p, logger), s
}

func makeTask(fn string, args string) *model.TaskRecord {
	rec := &model.TaskRecord{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Fn:        fn,
		CreatedAt: time.Now().UTC(),
	}
	if args != "" {
		rec.Args = json.RawMessage(args)
	}
	return rec
}

// waitForStatus polls the store until the task reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.TaskRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := s.GetTask(context.Background(), id)
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if rec.Status == expected {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

func TestSubmitHappyPath(t *testing.T) {
	eng, s := newTestEngine(t)

	rec := makeTask(enShout.Name(), `["hello"]`)
	if err := eng.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	completed := waitForStatus(t, s, rec.ID, model.StatusCompleted, 5*time.Second)
	if string(completed.Result) != `"HELLO"` {
		t.Errorf("result = %s, want \"HELLO\"", completed.Result)
	}
	if completed.DurationMS == nil {
		t.Error("duration_ms not set")
	}
	if completed.StartedAt == nil || completed.FinishedAt == nil {
		t.Error("started_at/finished_at not set")
	}
}

func TestSubmitUnknownFunction(t *testing.T) {
	eng, s := newTestEngine(t)

	rec := makeTask("enclave.engine.nope", "")
	err := eng.Submit(context.Background(), rec)
	if !errors.Is(err, engine.ErrUnknownFunction) {
		t.Fatalf("Submit = %v, want ErrUnknownFunction", err)
	}

	// Nothing was persisted.
	if _, err := s.GetTask(context.Background(), rec.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("GetTask = %v, want ErrNotFound", err)
	}
}

func TestSubmitMalformedArgs(t *testing.T) {
	eng, _ := newTestEngine(t)

	rec := makeTask(enShout.Name(), `{"not":"a list"}`)
	if err := eng.Submit(context.Background(), rec); !errors.Is(err, engine.ErrBadArguments) {
		t.Fatalf("Submit = %v, want ErrBadArguments", err)
	}
}

func TestTaskFailureRecordsError(t *testing.T) {
	eng, s := newTestEngine(t)

	rec := makeTask(enFail.Name(), "")
	if err := eng.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, rec.ID, model.StatusFailed, 5*time.Second)
	if !strings.Contains(failed.Error, "task exploded") {
		t.Errorf("error = %q, want it to mention the task failure", failed.Error)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	eng, _ := newTestEngine(t)

	rec := makeTask(enShout.Name(), `["hi"]`)
	events, unsubscribe := eng.Broker().Subscribe(rec.ID)
	defer unsubscribe()

	if err := eng.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var seen []string
	for ev := range events {
		seen = append(seen, ev.Status)
	}
	if len(seen) == 0 || seen[len(seen)-1] != model.StatusCompleted {
		t.Errorf("events = %v, want terminal completed event", seen)
	}
}

func TestWaitBlocksUntilDrained(t *testing.T) {
	eng, s := newTestEngine(t)

	rec := makeTask(enShout.Name(), `["drain"]`)
	if err := eng.Submit(context.Background(), rec); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	eng.Wait()

	got, err := s.GetTask(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.StatusCompleted && got.Status != model.StatusFailed {
		t.Errorf("status after Wait = %q, want terminal", got.Status)
	}
}
