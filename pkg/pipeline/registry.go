package pipeline

import (
	"fmt"
	"slices"
	"sort"
)

// Registration describes one step supplied to a Registry. It replaces
// attribute-based discovery: order, enablement and environment scoping are
// stated explicitly by the caller.
type Registration[T any] struct {
	// Name identifies the step before resolution; the resolved step's own
	// Metadata is authoritative for listings.
	Name string

	// Order positions the step in the chain. Ties keep registration order.
	Order int
	// Disabled registrations are dropped at Build time.
	Disabled bool
	// Environments restricts the step to the listed environments. Empty
	// means every environment.
	Environments []string

	// Factory constructs the step. It runs lazily, at most once per handle.
	Factory func() (Step[T], error)
}

// Registry collects step registrations and produces the ordered handle list a
// Pipeline executes.
type Registry[T any] struct {
	regs []Registration[T]
}

// NewRegistry returns an empty registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Add records a registration. Name and Factory are required.
func (r *Registry[T]) Add(reg Registration[T]) error {
	if reg.Name == "" {
		return fmt.Errorf("registry: registration requires a name")
	}
	if reg.Factory == nil {
		return fmt.Errorf("registry: step %q requires a factory", reg.Name)
	}
	r.regs = append(r.regs, reg)
	return nil
}

// MustAdd is Add for static registration lists; it panics on a bad
// registration.
func (r *Registry[T]) MustAdd(reg Registration[T]) {
	if err := r.Add(reg); err != nil {
		panic(err)
	}
}

// Build filters and orders the registrations for the given environment and
// returns memoizing handles. Position in the returned slice is the step's
// execution position.
func (r *Registry[T]) Build(environment string) []Handle[T] {
	selected := make([]Registration[T], 0, len(r.regs))
	for _, reg := range r.regs {
		if reg.Disabled {
			continue
		}
		if len(reg.Environments) > 0 && !slices.Contains(reg.Environments, environment) {
			continue
		}
		selected = append(selected, reg)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Order < selected[j].Order
	})

	handles := make([]Handle[T], 0, len(selected))
	for _, reg := range selected {
		reg := reg
		factory := reg.Factory
		handles = append(handles, Lazy(reg.Name, func() (Step[T], error) {
			step, err := factory()
			if err != nil {
				return nil, err
			}
			if step == nil {
				return nil, fmt.Errorf("registry: factory for step %q returned nil", reg.Name)
			}
			return step, nil
		}))
	}
	return handles
}
