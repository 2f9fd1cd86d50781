package realtime

import (
	"sort"
	"sync"

	"github.com/voxa-go/voxa/pkg/core/types"
)

// Registry maps tool names to invocable host functions. Registration may
// happen at any time, including mid-session; the last registration for a
// name wins.
type Registry struct {
	mu  sync.RWMutex
	fns map[string]types.ToolFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{fns: make(map[string]types.ToolFunc)}
}

// Register inserts or replaces the function for name. Registering a nil
// function removes the name.
func (r *Registry) Register(name string, fn types.ToolFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn == nil {
		delete(r.fns, name)
		return
	}
	r.fns[name] = fn
}

// Lookup returns the function registered for name.
func (r *Registry) Lookup(name string) (types.ToolFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
