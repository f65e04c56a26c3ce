package sandbox

import (
	"fmt"
	"sort"
	"sync"
)

// Isolation mode names used when registering runtime services.
const (
	ModeInProc = "inproc"
	ModeProc   = "proc"
)

// Registry holds the available runtime services keyed by isolation mode, so
// the service surface can select one by configuration.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewRegistry creates an empty runtime service registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]Service)}
}

// Register adds a runtime service under the given isolation mode name.
func (r *Registry) Register(mode string, svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[mode] = svc
}

// Resolve returns the runtime service registered for the given isolation
// mode. Returns an error if the mode is not registered.
func (r *Registry) Resolve(mode string) (Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, ok := r.services[mode]
	if !ok {
		return nil, fmt.Errorf("isolation mode %q is not registered", mode)
	}
	return svc, nil
}

// Modes returns the registered isolation mode names, sorted for a stable
// API response.
func (r *Registry) Modes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modes := make([]string, 0, len(r.services))
	for mode := range r.services {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}
