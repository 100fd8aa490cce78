package colorspace

import "sync"

// similarity tolerance for Intern, in xy units and linear light
const internTolerance = 2e-3

// Registry holds the distinct color spaces in use so that spaces decoded
// from files resolve to a shared instance.
type Registry struct {
	mu     sync.RWMutex
	spaces []*ColorSpace
	byName map[string]*ColorSpace
}

// NewRegistry returns a registry seeded with spaces.
func NewRegistry(spaces ...*ColorSpace) *Registry {
	r := &Registry{byName: make(map[string]*ColorSpace)}
	for _, cs := range spaces {
		r.add(cs)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return NewRegistry(Builtins()...)
})

// DefaultRegistry is the process-wide registry seeded with the built-in
// spaces.
func DefaultRegistry() *Registry { return defaultRegistry() }

func (r *Registry) add(cs *ColorSpace) {
	r.spaces = append(r.spaces, cs)
	if _, ok := r.byName[cs.name]; !ok {
		r.byName[cs.name] = cs
	}
}

// Lookup finds a space by name.
func (r *Registry) Lookup(name string) (*ColorSpace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.byName[name]
	return cs, ok
}

// Intern returns the registered space structurally matching cs, or
// registers cs and returns it.
func (r *Registry) Intern(cs *ColorSpace) *ColorSpace {
	if found := r.find(cs); found != nil {
		return found
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.spaces {
		if s.Similar(cs, internTolerance) {
			return s
		}
	}
	r.add(cs)
	return cs
}

func (r *Registry) find(cs *ColorSpace) *ColorSpace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.spaces {
		if s.Similar(cs, internTolerance) {
			return s
		}
	}
	return nil
}

// Spaces returns a snapshot of the registered spaces.
func (r *Registry) Spaces() []*ColorSpace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*ColorSpace(nil), r.spaces...)
}
