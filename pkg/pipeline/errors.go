package pipeline

import (
	"errors"
	"fmt"
)

// Common engine errors.
var (
	// ErrNilState is returned by Execute when the supplied state is nil.
	ErrNilState = errors.New("pipeline: state must not be nil")

	// ErrContinuationReused is returned to a step that invokes its
	// continuation more than once. The downstream chain runs on the first
	// invocation only.
	ErrContinuationReused = errors.New("pipeline: continuation invoked more than once")
)

// StepError reports a step failure together with the identity and position of
// the originating step. The engine never wraps a StepError in another
// StepError, so Step and Position always identify the deepest failing step.
type StepError struct {
	Step     string
	Position int
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q (position %d): %v", e.Step, e.Position, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
