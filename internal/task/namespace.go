package task

import "fmt"

// Namespace holds the top-level bindings of one isolated runtime. Bindings
// injected as restricted cannot be rebound afterwards. A Namespace is owned
// by a single runtime and is never shared between runtimes.
type Namespace struct {
	vals       map[string]any
	restricted map[string]bool
}

// NewNamespace creates an empty namespace.
func NewNamespace() *Namespace {
	return &Namespace{
		vals:       make(map[string]any),
		restricted: make(map[string]bool),
	}
}

// Get returns the value bound to name.
func (n *Namespace) Get(name string) (any, bool) {
	v, ok := n.vals[name]
	return v, ok
}

// Set binds name to v. Rebinding a restricted name fails.
func (n *Namespace) Set(name string, v any) error {
	if n.restricted[name] {
		return fmt.Errorf("binding %q is restricted", name)
	}
	n.vals[name] = v
	return nil
}

// Bind injects a mapping of bindings into the namespace. When restricted is
// true the injected names are marked non-overridable. Injecting over an
// existing restricted name fails, since re-injection is not supported.
func (n *Namespace) Bind(m map[string]any, restricted bool) error {
	for name := range m {
		if n.restricted[name] {
			return fmt.Errorf("binding %q is restricted", name)
		}
	}
	for name, v := range m {
		n.vals[name] = v
		if restricted {
			n.restricted[name] = true
		}
	}
	return nil
}

// Len returns the number of bindings.
func (n *Namespace) Len() int {
	return len(n.vals)
}
