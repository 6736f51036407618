package pipeline

import "context"

// Next is the continuation handed to a step. Invoking it runs the remainder
// of the chain against the shared state; a step that returns without calling
// it short-circuits the pipeline.
type Next[T any] func(ctx context.Context, state T) error

// Metadata describes a step for logging and schema generation. The short
// circuit fields are informational only; the engine detects short-circuiting
// structurally and never acts on what a step declares about itself.
type Metadata struct {
	Name                  string
	Description           string
	MayShortCircuit       bool
	ShortCircuitCondition string
}

// Step is one unit of pipeline behaviour. The state value is shared and
// mutable; mutations made before next is invoked are visible to every later
// step. Steps are expected to observe ctx cancellation cooperatively.
type Step[T any] interface {
	Metadata() Metadata
	Invoke(ctx context.Context, state T, next Next[T]) error
}

// Func adapts a plain function to a Step.
type Func[T any] struct {
	Meta Metadata
	Fn   func(ctx context.Context, state T, next Next[T]) error
}

// Metadata implements Step.
func (f Func[T]) Metadata() Metadata { return f.Meta }

// Invoke implements Step.
func (f Func[T]) Invoke(ctx context.Context, state T, next Next[T]) error {
	return f.Fn(ctx, state, next)
}
