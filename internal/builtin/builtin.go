// Package builtin registers the task functions shipped with the service.
// Importing it for side effects makes the functions encodable by name in
// both the server and agent binaries.
package builtin

import (
	"fmt"
	"strings"
	"time"

	"github.com/seantiz/enclave/internal/task"
)

// Callables for the built-in task functions, usable directly by Go callers.
var (
	Echo = task.Register("enclave.builtin.echo", echo)
	Sum  = task.Register("enclave.builtin.sum", sum)
	Join = task.Register("enclave.builtin.join", join)
	Tick = task.Register("enclave.builtin.tick", tick)
	Wait = task.Register("enclave.builtin.wait", wait)
)

// echo returns its positional arguments unchanged. With the "upper" keyword
// set, string arguments are uppercased.
func echo(_ *task.Namespace, args []any, kwargs map[string]any) (any, error) {
	if upper, _ := kwargs["upper"].(bool); !upper {
		return args, nil
	}
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			out[i] = strings.ToUpper(s)
		} else {
			out[i] = a
		}
	}
	return out, nil
}

// sum adds its numeric arguments.
func sum(_ *task.Namespace, args []any, _ map[string]any) (any, error) {
	total := 0.0
	for i, a := range args {
		n, ok := a.(float64)
		if !ok {
			return nil, fmt.Errorf("argument %d is %T, not a number", i, a)
		}
		total += n
	}
	return total, nil
}

// join concatenates string arguments with the "sep" keyword (default ",").
func join(_ *task.Namespace, args []any, kwargs map[string]any) (any, error) {
	sep := ","
	if s, ok := kwargs["sep"].(string); ok {
		sep = s
	}
	parts := make([]string, len(args))
	for i, a := range args {
		s, ok := a.(string)
		if !ok {
			return nil, fmt.Errorf("argument %d is %T, not a string", i, a)
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

// tick increments a counter bound in the runtime's namespace and returns the
// new value. Each isolated runtime keeps its own count.
func tick(ns *task.Namespace, _ []any, _ map[string]any) (any, error) {
	n := 0.0
	if v, ok := ns.Get("tick_count"); ok {
		n = v.(float64)
	}
	n++
	if err := ns.Set("tick_count", n); err != nil {
		return nil, err
	}
	return n, nil
}

// wait sleeps for the given number of milliseconds and returns it.
func wait(_ *task.Namespace, args []any, _ map[string]any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("wait takes one argument, got %d", len(args))
	}
	ms, ok := args[0].(float64)
	if !ok || ms < 0 {
		return nil, fmt.Errorf("invalid duration %v", args[0])
	}
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return ms, nil
}
