package agent

import (
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"
)

type entry struct {
	spec    Spec
	factory Factory
}

// Registry maps agent names to factories. Specs are checked when an agent
// is registered, so Build only fails on names the caller got wrong.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

func (r *Registry) Register(spec Spec, factory Factory) error {
	if err := spec.Check(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("%w: %s has no factory", ErrInvalidSpec, spec.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[spec.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, spec.Name)
	}
	r.entries[spec.Name] = entry{spec: spec, factory: factory}
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister is Register for built-in agents; a bad spec is a programming
// error.
func (r *Registry) MustRegister(spec Spec, factory Factory) {
	if err := r.Register(spec, factory); err != nil {
		panic(err)
	}
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// Specs returns the catalogue in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.entries[name].spec)
	}
	return specs
}

// Resolve checks names and returns them deduplicated in request order. An
// empty list selects every registered agent.
func (r *Registry) Resolve(names []string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		return append([]string(nil), r.order...), nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.entries[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}

// Build instantiates the named agents (all when names is empty) bound to env.
func (r *Registry) Build(env *Env, names []string) (*Set, error) {
	resolved, err := r.Resolve(names)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	set := &Set{byName: make(map[string]Agent, len(resolved))}
	for _, name := range resolved {
		a := r.entries[name].factory(env)
		set.byName[name] = a
		set.order = append(set.order, name)
	}
	return set, nil
}

// Set is the agents available to one turn.
type Set struct {
	byName map[string]Agent
	order  []string
}

func (s *Set) Get(name string) (Agent, error) {
	a, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
	}
	return a, nil
}

func (s *Set) Names() []string {
	return append([]string(nil), s.order...)
}

// ToolInfos describes the set for the dispatcher.
func (s *Set) ToolInfos() []*schema.ToolInfo {
	infos := make([]*schema.ToolInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.byName[name].Spec().ToolInfo())
	}
	return infos
}
