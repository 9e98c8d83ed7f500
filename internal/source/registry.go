package source

import (
	"github.com/rotisserie/eris"
)

// Registry maps source names to their implementations.
type Registry struct {
	sources map[string]Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with the CRM, social-ads, and
// search-ads sources.
func NewRegistry() *Registry {
	r := &Registry{sources: make(map[string]Source)}
	r.Register(NewCRM())
	r.Register(NewFacebook())
	r.Register(NewGoogle())
	return r
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	name := s.Name()
	if _, ok := r.sources[name]; !ok {
		r.order = append(r.order, name)
	}
	r.sources[name] = s
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q (valid: %v)", name, r.order)
	}
	return s, nil
}

// Select returns the named sources, or every source when names is empty.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	seen := make(map[string]bool, len(names))
	var result []Source
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// Names returns all registered source names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
