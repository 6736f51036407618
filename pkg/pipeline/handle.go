package pipeline

import "sync"

// Handle is a deferred reference to a step. The engine resolves a handle only
// when the step's continuation actually runs, so steps behind a short-circuit
// are never constructed. Whether Resolve caches its result is the provider's
// choice, not the engine's.
type Handle[T any] interface {
	Resolve() (Step[T], error)
}

// HandleFunc adapts a factory function to a Handle without caching; the
// factory runs on every resolution.
type HandleFunc[T any] func() (Step[T], error)

// Resolve implements Handle.
func (f HandleFunc[T]) Resolve() (Step[T], error) { return f() }

// Lazy wraps a factory in a memoizing handle. The factory runs at most once,
// on first resolution, and the result (error included) is reused across
// executions and metadata listings.
func Lazy[T any](name string, factory func() (Step[T], error)) Handle[T] {
	return &lazyHandle[T]{name: name, factory: factory}
}

type lazyHandle[T any] struct {
	name    string
	factory func() (Step[T], error)
	once    sync.Once
	step    Step[T]
	err     error
}

func (h *lazyHandle[T]) Resolve() (Step[T], error) {
	h.once.Do(func() {
		h.step, h.err = h.factory()
	})
	return h.step, h.err
}

// StepName reports the registered name without forcing resolution. The engine
// uses it to attribute resolution failures.
func (h *lazyHandle[T]) StepName() string { return h.name }

// namedHandle is the optional interface handles implement to expose a step
// name before resolution.
type namedHandle interface {
	StepName() string
}

func handleName[T any](h Handle[T]) string {
	if named, ok := h.(namedHandle); ok {
		return named.StepName()
	}
	return ""
}
