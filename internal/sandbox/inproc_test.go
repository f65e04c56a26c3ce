package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/seantiz/enclave/internal/channel"
	"github.com/seantiz/enclave/internal/model"
	"github.com/seantiz/enclave/internal/task"
)

var (
	sbEcho = task.Register("enclave.sandbox.echo", func(_ *task.Namespace, args []any, _ map[string]any) (any, error) {
		return args[0], nil
	})
	sbFail = task.Register("enclave.sandbox.fail", func(_ *task.Namespace, _ []any, _ map[string]any) (any, error) {
		return nil, errors.New("kaput")
	})
	sbPanic = task.Register("enclave.sandbox.panic", func(_ *task.Namespace, _ []any, _ map[string]any) (any, error) {
		panic("over the edge")
	})
	sbIncr = task.Register("enclave.sandbox.incr", func(ns *task.Namespace, _ []any, _ map[string]any) (any, error) {
		n := 0.0
		if v, ok := ns.Get("counter"); ok {
			n = v.(float64)
		}
		n++
		if err := ns.Set("counter", n); err != nil {
			return nil, err
		}
		return n, nil
	})
	sbReadX = task.Register("enclave.sandbox.readx", func(ns *task.Namespace, _ []any, _ map[string]any) (any, error) {
		v, ok := ns.Get("X")
		if !ok {
			return nil, errors.New("X is not bound")
		}
		return v, nil
	})
)

func newInProc(t *testing.T) (*InProc, *channel.Service) {
	t.Helper()
	channels := channel.NewService()
	return NewInProc(channels), channels
}

// bootRuntime creates a bootstrapped runtime with one reference held.
func bootRuntime(t *testing.T, s *InProc) Handle {
	t.Helper()
	h, err := s.Create(context.Background(), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Incref(h); err != nil {
		t.Fatalf("Incref: %v", err)
	}
	info, err := s.Exec(h, Program{Op: OpBootstrap}, true)
	if err != nil || info != nil {
		t.Fatalf("bootstrap = (%v, %v), want clean", info, err)
	}
	return h
}

// runTask executes one encoded call and returns the retrieved envelope.
func runTask(t *testing.T, s *InProc, channels *channel.Service, h Handle, blob task.Encoded) (model.Envelope, *model.ExcInfo) {
	t.Helper()
	results := channels.Create(0)
	t.Cleanup(func() { channels.Destroy(results) })

	info, err := s.Exec(h, Program{Op: OpCall, Task: blob, Results: results}, true)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	env, marker, err := channels.Get(results)
	if err != nil {
		t.Fatalf("Get envelope: %v", err)
	}
	if marker != 0 {
		t.Fatalf("marker = %d, want 0", marker)
	}
	return env, info
}

func TestExecDeliversValue(t *testing.T) {
	s, channels := newInProc(t)
	h := bootRuntime(t, s)

	blob, err := task.Encode(sbEcho, []any{"ping"}, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	env, info := runTask(t, s, channels, h, blob)
	if info != nil {
		t.Errorf("uncaught info = %+v, want nil", info)
	}
	if env.Value != "ping" {
		t.Errorf("Value = %v, want %q", env.Value, "ping")
	}
}

func TestExecCapturesTaskError(t *testing.T) {
	s, channels := newInProc(t)
	h := bootRuntime(t, s)

	blob, _ := task.Encode(sbFail, nil, nil)
	env, info := runTask(t, s, channels, h, blob)

	if env.Err == nil || env.Err.Msg != "kaput" {
		t.Fatalf("envelope Err = %+v, want kaput", env.Err)
	}
	if info == nil || info.Msg != "kaput" {
		t.Errorf("uncaught info = %+v, want kaput", info)
	}
}

func TestExecCapturesPanic(t *testing.T) {
	s, channels := newInProc(t)
	h := bootRuntime(t, s)

	blob, _ := task.Encode(sbPanic, nil, nil)
	env, info := runTask(t, s, channels, h, blob)

	if env.Err == nil || env.Err.Type != "panic" {
		t.Fatalf("envelope Err = %+v, want captured panic", env.Err)
	}
	if !strings.Contains(env.Err.Msg, "over the edge") {
		t.Errorf("Msg = %q, want panic value", env.Err.Msg)
	}
	if info == nil {
		t.Error("uncaught info is nil, want captured panic")
	}
}

func TestCallBeforeBootstrapFails(t *testing.T) {
	s, channels := newInProc(t)
	h, err := s.Create(context.Background(), true)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Incref(h); err != nil {
		t.Fatalf("Incref: %v", err)
	}

	blob, _ := task.Encode(sbEcho, []any{"x"}, nil)
	results := channels.Create(0)
	info, err := s.Exec(h, Program{Op: OpCall, Task: blob, Results: results}, true)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if info == nil || !strings.Contains(info.Msg, "bootstrapped") {
		t.Errorf("info = %+v, want bootstrap failure", info)
	}
}

func TestRuntimesAreIsolated(t *testing.T) {
	s, channels := newInProc(t)
	h1 := bootRuntime(t, s)
	h2 := bootRuntime(t, s)

	blob, _ := task.Encode(sbIncr, nil, nil)
	for _, h := range []Handle{h1, h2} {
		env, info := runTask(t, s, channels, h, blob)
		if info != nil {
			t.Fatalf("uncaught info = %+v", info)
		}
		if env.Value != 1.0 {
			t.Errorf("counter after one task = %v, want 1", env.Value)
		}
	}
}

func TestSetBindingsRestricted(t *testing.T) {
	s, channels := newInProc(t)
	h := bootRuntime(t, s)

	if err := s.SetBindings(h, map[string]any{"X": 42.0}, true); err != nil {
		t.Fatalf("SetBindings: %v", err)
	}

	blob, _ := task.Encode(sbReadX, nil, nil)
	env, _ := runTask(t, s, channels, h, blob)
	if env.Value != 42.0 {
		t.Errorf("X = %v, want 42", env.Value)
	}

	// Re-injection over a restricted binding is rejected.
	if err := s.SetBindings(h, map[string]any{"X": 0.0}, true); err == nil {
		t.Error("re-injection over restricted binding succeeded, want error")
	}
}

func TestDecrefDestroysRuntime(t *testing.T) {
	s, _ := newInProc(t)
	h := bootRuntime(t, s)

	if err := s.Decref(h); err != nil {
		t.Fatalf("Decref: %v", err)
	}

	if err := s.Decref(h); !errors.Is(err, ErrNotFound) {
		t.Errorf("Decref after destroy = %v, want ErrNotFound", err)
	}
	if _, err := s.Exec(h, Program{Op: OpBootstrap}, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("Exec after destroy = %v, want ErrNotFound", err)
	}
}

func TestUnknownHandle(t *testing.T) {
	s, _ := newInProc(t)
	if err := s.Incref(Handle("nope")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Incref(unknown) = %v, want ErrNotFound", err)
	}
}

func TestGuardedEnvelopeWrite(t *testing.T) {
	s, channels := newInProc(t)
	h := bootRuntime(t, s)

	// Destroy the results channel before the call so the success write
	// fails; the failure must surface as an uncaught ExcInfo rather than
	// disappearing.
	results := channels.Create(0)
	channels.Destroy(results)

	blob, _ := task.Encode(sbEcho, []any{"lost"}, nil)
	info, err := s.Exec(h, Program{Op: OpCall, Task: blob, Results: results}, true)
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if info == nil || !strings.Contains(info.Msg, "not found") {
		t.Errorf("info = %+v, want channel-not-found failure", info)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	svc := NewInProc(channel.NewService())
	reg.Register(ModeInProc, svc)

	got, err := reg.Resolve(ModeInProc)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != Service(svc) {
		t.Error("Resolve returned a different service")
	}

	if _, err := reg.Resolve("gvisor"); err == nil {
		t.Error("Resolve of unregistered mode succeeded, want error")
	}

	reg.Register(ModeProc, svc)
	modes := reg.Modes()
	want := fmt.Sprintf("%v", []string{ModeInProc, ModeProc})
	if fmt.Sprintf("%v", modes) != want {
		t.Errorf("Modes = %v, want %v", modes, want)
	}
}
