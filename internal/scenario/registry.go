package scenario

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds scenarios in registration order.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Scenario
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Scenario)}
}

// Register adds s. Names must be unique and non-empty.
func (r *Registry) Register(s *Scenario) error {
	if s == nil || s.Name == "" {
		return errors.New("scenario name is required")
	}
	if s.Run == nil {
		return fmt.Errorf("scenario %q has no Run function", s.Name)
	}
	if s.Threshold < 0 || s.Threshold > 100 {
		return fmt.Errorf("scenario %q threshold %.0f is outside 0-100", s.Name, s.Threshold)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[s.Name]; exists {
		return fmt.Errorf("scenario %q already registered", s.Name)
	}
	r.byName[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(s *Scenario) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns the named scenario.
func (r *Registry) Get(name string) (*Scenario, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	return s, ok
}

// All returns every scenario in registration order.
func (r *Registry) All() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Scenario, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Select returns the named scenarios in the order given, or every scenario
// when names is empty. A name of the form "tag:x" selects every scenario
// tagged x. Duplicates are dropped and unknown names are an error.
func (r *Registry) Select(names ...string) ([]*Scenario, error) {
	if len(names) == 0 {
		return r.All(), nil
	}

	var (
		out     []*Scenario
		unknown []string
		seen    = map[string]bool{}
	)
	add := func(s *Scenario) {
		if !seen[s.Name] {
			seen[s.Name] = true
			out = append(out, s)
		}
	}

	for _, name := range names {
		if tag, ok := strings.CutPrefix(name, "tag:"); ok {
			matched := false
			for _, s := range r.All() {
				if s.HasTag(tag) {
					add(s)
					matched = true
				}
			}
			if !matched {
				unknown = append(unknown, name)
			}
			continue
		}
		s, ok := r.Get(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		add(s)
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown scenario(s): %s", strings.Join(unknown, ", "))
	}
	return out, nil
}
