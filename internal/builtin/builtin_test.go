package builtin

import (
	"strings"
	"testing"

	"github.com/seantiz/enclave/internal/task"
)

func call(t *testing.T, c task.Callable, args []any, kwargs map[string]any) (any, error) {
	t.Helper()
	fn, ok := task.Lookup(c.Name())
	if !ok {
		t.Fatalf("%q is not registered", c.Name())
	}
	return fn(task.NewNamespace(), args, kwargs)
}

func TestEcho(t *testing.T) {
	got, err := call(t, Echo, []any{"hi", 1.0}, nil)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	vals := got.([]any)
	if vals[0] != "hi" || vals[1] != 1.0 {
		t.Errorf("echo = %v, want [hi 1]", vals)
	}

	got, err = call(t, Echo, []any{"hi"}, map[string]any{"upper": true})
	if err != nil {
		t.Fatalf("echo upper: %v", err)
	}
	if got.([]any)[0] != "HI" {
		t.Errorf("echo upper = %v, want [HI]", got)
	}
}

func TestSum(t *testing.T) {
	got, err := call(t, Sum, []any{1.0, 2.0, 3.5}, nil)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if got != 6.5 {
		t.Errorf("sum = %v, want 6.5", got)
	}

	if _, err := call(t, Sum, []any{"nope"}, nil); err == nil {
		t.Error("sum accepted a non-numeric argument")
	}
}

func TestJoin(t *testing.T) {
	got, err := call(t, Join, []any{"a", "b", "c"}, map[string]any{"sep": "-"})
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if got != "a-b-c" {
		t.Errorf("join = %v, want a-b-c", got)
	}
}

func TestTickCountsPerNamespace(t *testing.T) {
	fn, _ := task.Lookup(Tick.Name())

	ns := task.NewNamespace()
	for want := 1.0; want <= 3; want++ {
		got, err := fn(ns, nil, nil)
		if err != nil {
			t.Fatalf("tick: %v", err)
		}
		if got != want {
			t.Errorf("tick = %v, want %v", got, want)
		}
	}

	// A fresh namespace starts over.
	got, err := fn(task.NewNamespace(), nil, nil)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got != 1.0 {
		t.Errorf("tick in fresh namespace = %v, want 1", got)
	}
}

func TestWaitValidatesArgs(t *testing.T) {
	if _, err := call(t, Wait, nil, nil); err == nil {
		t.Error("wait accepted zero arguments")
	}
	if _, err := call(t, Wait, []any{-5.0}, nil); err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("wait(-5) = %v, want invalid duration", err)
	}
	got, err := call(t, Wait, []any{1.0}, nil)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got != 1.0 {
		t.Errorf("wait = %v, want 1", got)
	}
}
