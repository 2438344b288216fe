package hostfunc

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Func is a Go function callable from scripts as host.<name>(args).
type Func func(ctx context.Context, args map[string]any) (any, error)

type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Func
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	r.funcs[name] = fn
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	fn, ok := r.funcs[name]
	r.mu.RUnlock()
	return fn, ok
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := lo.Keys(r.funcs)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// All returns a snapshot of the registered functions.
func (r *Registry) All() map[string]Func {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Assign(r.funcs)
}

// Clone returns a new registry holding the same functions.
// Registrations on the clone do not affect r.
func (r *Registry) Clone() *Registry {
	c := NewRegistry()
	if r == nil {
		return c
	}
	c.funcs = r.All()
	return c
}
