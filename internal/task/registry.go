// Package task implements the task encoding layer: a process-wide registry
// of named task functions, the encoder that turns a function reference plus
// arguments into a transportable blob, and the namespace type that holds an
// isolated runtime's top-level bindings.
package task

import (
	"fmt"
	"sort"
	"sync"
)

// Func is a task function invocable inside an isolated runtime. It receives
// the runtime's top-level namespace plus the positional and keyword
// arguments that were encoded with it.
type Func func(ns *Namespace, args []any, kwargs map[string]any) (any, error)

var registry = struct {
	mu    sync.RWMutex
	funcs map[string]Func
}{funcs: make(map[string]Func)}

// Register adds fn to the process-wide registry under the given qualified
// name and returns a Callable referencing it. Registration normally happens
// from package init functions, mirroring how encoding/gob registers types.
// Register panics if the name is empty or already taken.
func Register(name string, fn Func) Callable {
	if name == "" {
		panic("task: Register with empty name")
	}
	if fn == nil {
		panic("task: Register with nil function")
	}
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, ok := registry.funcs[name]; ok {
		panic(fmt.Sprintf("task: Register called twice for %q", name))
	}
	registry.funcs[name] = fn
	return Callable{name: name}
}

// Lookup returns the registered function for name.
func Lookup(name string) (Func, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	fn, ok := registry.funcs[name]
	return fn, ok
}

// Named returns a Callable for an already-registered name. It is used by
// callers that hold a function name rather than a Callable value, such as
// the HTTP surface.
func Named(name string) (Callable, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	if _, ok := registry.funcs[name]; !ok {
		return Callable{}, false
	}
	return Callable{name: name}, true
}

// Names returns the sorted names of all registered task functions.
func Names() []string {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	names := make([]string, 0, len(registry.funcs))
	for name := range registry.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
