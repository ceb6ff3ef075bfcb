package hook

import (
	"sort"
	"sync"
)

// Registry maps method names to hooks. Method matching is exact; a method
// with no entry passes through the proxy untouched.
type Registry struct {
	mu    sync.RWMutex
	hooks map[string]Hook
}

func NewRegistry() *Registry {
	return &Registry{
		hooks: make(map[string]Hook),
	}
}

// Register binds hook to method, replacing any previous binding.
func (r *Registry) Register(method string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks[method] = h
}

func (r *Registry) Lookup(method string) (Hook, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hooks[method]
	return h, ok
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.hooks))
	for m := range r.hooks {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}
