package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
)

// chainState records which steps ran, in order.
type chainState struct {
	visited []string
}

// appendStep returns a handle whose step records its name and continues.
func appendStep(name string) Handle[*chainState] {
	return Lazy(name, func() (Step[*chainState], error) {
		return Func[*chainState]{
			Meta: Metadata{Name: name},
			Fn: func(ctx context.Context, state *chainState, next Next[*chainState]) error {
				state.visited = append(state.visited, name)
				return next(ctx, state)
			},
		}, nil
	})
}

// haltStep records its name and returns without invoking the continuation.
func haltStep(name string) Handle[*chainState] {
	return Lazy(name, func() (Step[*chainState], error) {
		return Func[*chainState]{
			Meta: Metadata{Name: name, MayShortCircuit: true},
			Fn: func(_ context.Context, state *chainState, _ Next[*chainState]) error {
				state.visited = append(state.visited, name)
				return nil
			},
		}, nil
	})
}

// failStep records its name and fails with err.
func failStep(name string, err error) Handle[*chainState] {
	return Lazy(name, func() (Step[*chainState], error) {
		return Func[*chainState]{
			Meta: Metadata{Name: name},
			Fn: func(_ context.Context, state *chainState, _ Next[*chainState]) error {
				state.visited = append(state.visited, name)
				return err
			},
		}, nil
	})
}

// countingHandle wraps a handle and counts resolutions.
func countingHandle(h Handle[*chainState], counter *atomic.Int64) Handle[*chainState] {
	return HandleFunc[*chainState](func() (Step[*chainState], error) {
		counter.Add(1)
		return h.Resolve()
	})
}

func TestExecuteRunsStepsInConfiguredOrder(t *testing.T) {
	p := New([]Handle[*chainState]{appendStep("a"), appendStep("b"), appendStep("c")})

	state := &chainState{}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := strings.Join(state.visited, ""); got != "abc" {
		t.Fatalf("expected execution order abc, got %q", got)
	}
}

func TestExecuteEmptyPipelineSucceeds(t *testing.T) {
	p := New[*chainState](nil)

	state := &chainState{}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(state.visited) != 0 {
		t.Fatalf("expected untouched state, got %v", state.visited)
	}
}

func TestExecuteNilStateRejected(t *testing.T) {
	p := New([]Handle[*chainState]{appendStep("a")})

	if err := p.Execute(context.Background(), nil); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}

	// Typed nil pointers are rejected the same way.
	var state *chainState
	if err := p.Execute(context.Background(), state); !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState for typed nil, got %v", err)
	}
}

func TestExecuteShortCircuitStopsChain(t *testing.T) {
	var resolvedC atomic.Int64
	p := New([]Handle[*chainState]{
		appendStep("a"),
		haltStep("b"),
		countingHandle(appendStep("c"), &resolvedC),
	})

	state := &chainState{}
	if err := p.Execute(context.Background(), state); err != nil {
		t.Fatalf("short-circuit must not be an error: %v", err)
	}
	if got := strings.Join(state.visited, ""); got != "ab" {
		t.Fatalf("expected prefix ab, got %q", got)
	}
	if resolvedC.Load() != 0 {
		t.Fatalf("step behind a short-circuit must never be resolved, got %d resolutions", resolvedC.Load())
	}
}

func TestExecuteStepFailureIdentifiesStep(t *testing.T) {
	cause := errors.New("upstream unavailable")
	p := New([]Handle[*chainState]{appendStep("a"), failStep("b", cause), appendStep("c")})

	state := &chainState{}
	err := p.Execute(context.Background(), state)
	if err == nil {
		t.Fatalf("expected failure")
	}

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %T: %v", err, err)
	}
	if stepErr.Step != "b" || stepErr.Position != 1 {
		t.Fatalf("expected step b at position 1, got %q at %d", stepErr.Step, stepErr.Position)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be reachable via errors.Is")
	}
	if got := strings.Join(state.visited, ""); got != "ab" {
		t.Fatalf("steps after the failure must not run, got %q", got)
	}
}

func TestExecuteDoesNotDoubleWrapStepError(t *testing.T) {
	cause := errors.New("boom")
	p := New([]Handle[*chainState]{appendStep("a"), appendStep("b"), failStep("c", cause)})

	err := p.Execute(context.Background(), &chainState{})

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != "c" || stepErr.Position != 2 {
		t.Fatalf("expected deepest step c at position 2, got %q at %d", stepErr.Step, stepErr.Position)
	}
	// The inner StepError must not itself wrap another StepError.
	var inner *StepError
	if errors.As(stepErr.Err, &inner) {
		t.Fatalf("step error was wrapped twice: %v", err)
	}
}

func TestExecuteWrapsErrorFromEnclosingStep(t *testing.T) {
	// A step that invokes next and then fails on its own still owns the error
	// when the downstream chain succeeded.
	cause := errors.New("post-processing failed")
	h := Lazy("outer", func() (Step[*chainState], error) {
		return Func[*chainState]{
			Meta: Metadata{Name: "outer"},
			Fn: func(ctx context.Context, state *chainState, next Next[*chainState]) error {
				if err := next(ctx, state); err != nil {
					return err
				}
				return cause
			},
		}, nil
	})
	p := New([]Handle[*chainState]{h, appendStep("inner")})

	err := p.Execute(context.Background(), &chainState{})
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != "outer" || stepErr.Position != 0 {
		t.Fatalf("expected outer at position 0, got %q at %d", stepErr.Step, stepErr.Position)
	}
}

func TestExecuteResolutionFailureReportsRegisteredName(t *testing.T) {
	resolveErr := errors.New("missing dependency")
	broken := Lazy[*chainState]("broken", func() (Step[*chainState], error) {
		return nil, resolveErr
	})
	p := New([]Handle[*chainState]{appendStep("a"), broken})

	state := &chainState{}
	err := p.Execute(context.Background(), state)

	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != "broken" || stepErr.Position != 1 {
		t.Fatalf("expected broken at position 1, got %q at %d", stepErr.Step, stepErr.Position)
	}
	if !errors.Is(err, resolveErr) {
		t.Fatalf("expected resolution error to be reachable")
	}
	if got := strings.Join(state.visited, ""); got != "a" {
		t.Fatalf("steps before the broken handle still run, got %q", got)
	}
}

func TestExecuteContinuationReuseRejected(t *testing.T) {
	var secondCallErr error
	greedy := Lazy("greedy", func() (Step[*chainState], error) {
		return Func[*chainState]{
			Meta: Metadata{Name: "greedy"},
			Fn: func(ctx context.Context, state *chainState, next Next[*chainState]) error {
				if err := next(ctx, state); err != nil {
					return err
				}
				secondCallErr = next(ctx, state)
				return secondCallErr
			},
		}, nil
	})
	p := New([]Handle[*chainState]{greedy, appendStep("tail")})

	state := &chainState{}
	err := p.Execute(context.Background(), state)
	if !errors.Is(err, ErrContinuationReused) {
		t.Fatalf("expected ErrContinuationReused, got %v", err)
	}
	if !errors.Is(secondCallErr, ErrContinuationReused) {
		t.Fatalf("second invocation must fail in place, got %v", secondCallErr)
	}
	// The downstream chain ran exactly once.
	if got := strings.Join(state.visited, ""); got != "tail" {
		t.Fatalf("expected tail to run once, got %q", got)
	}
}

func TestExecuteIsReentrant(t *testing.T) {
	p := New([]Handle[*chainState]{appendStep("a"), appendStep("b")})

	first := &chainState{}
	second := &chainState{}
	if err := p.Execute(context.Background(), first); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if err := p.Execute(context.Background(), second); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if strings.Join(first.visited, "") != "ab" || strings.Join(second.visited, "") != "ab" {
		t.Fatalf("executions must not share state: %v / %v", first.visited, second.visited)
	}
}

func TestLazyHandleResolvesOnce(t *testing.T) {
	var calls atomic.Int64
	h := Lazy("memo", func() (Step[*chainState], error) {
		calls.Add(1)
		return Func[*chainState]{
			Meta: Metadata{Name: "memo"},
			Fn: func(ctx context.Context, state *chainState, next Next[*chainState]) error {
				return next(ctx, state)
			},
		}, nil
	})
	p := New([]Handle[*chainState]{h})

	if _, err := p.Steps(); err != nil {
		t.Fatalf("steps: %v", err)
	}
	if err := p.Execute(context.Background(), &chainState{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := p.Execute(context.Background(), &chainState{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one factory call across listing and executions, got %d", calls.Load())
	}
}

func TestStepsListsMetadataInOrderWithoutExecuting(t *testing.T) {
	var invoked atomic.Int64
	observed := Lazy("first", func() (Step[*chainState], error) {
		return Func[*chainState]{
			Meta: Metadata{
				Name:                  "first",
				Description:           "records visits",
				MayShortCircuit:       true,
				ShortCircuitCondition: "state is already final",
			},
			Fn: func(ctx context.Context, state *chainState, next Next[*chainState]) error {
				invoked.Add(1)
				return next(ctx, state)
			},
		}, nil
	})
	p := New([]Handle[*chainState]{observed, appendStep("second")})

	infos, err := p.Steps()
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(infos))
	}
	if infos[0].Name != "first" || infos[0].Position != 0 {
		t.Fatalf("unexpected first entry: %+v", infos[0])
	}
	if !infos[0].MayShortCircuit || infos[0].ShortCircuitCondition != "state is already final" {
		t.Fatalf("metadata not carried through: %+v", infos[0])
	}
	if infos[1].Name != "second" || infos[1].Position != 1 {
		t.Fatalf("unexpected second entry: %+v", infos[1])
	}
	if invoked.Load() != 0 {
		t.Fatalf("listing must never invoke steps, got %d invocations", invoked.Load())
	}
}

func TestStepsResolutionFailureIdentifiesHandle(t *testing.T) {
	broken := Lazy[*chainState]("broken", func() (Step[*chainState], error) {
		return nil, errors.New("no such step")
	})
	p := New([]Handle[*chainState]{appendStep("a"), broken})

	_, err := p.Steps()
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		t.Fatalf("expected *StepError, got %v", err)
	}
	if stepErr.Step != "broken" || stepErr.Position != 1 {
		t.Fatalf("expected broken at position 1, got %q at %d", stepErr.Step, stepErr.Position)
	}
}

func TestStepErrorMessage(t *testing.T) {
	err := &StepError{Step: "guard.require", Position: 3, Err: errors.New("missing variable")}
	want := `step "guard.require" (position 3): missing variable`
	if err.Error() != want {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if fmt.Sprintf("%v", errors.Unwrap(err)) != "missing variable" {
		t.Fatalf("unwrap lost the cause")
	}
}

func TestHandleFuncResolvesEveryTime(t *testing.T) {
	var calls atomic.Int64
	h := HandleFunc[*chainState](func() (Step[*chainState], error) {
		calls.Add(1)
		return Func[*chainState]{
			Meta: Metadata{Name: "fresh"},
			Fn: func(ctx context.Context, state *chainState, next Next[*chainState]) error {
				return next(ctx, state)
			},
		}, nil
	})

	p := New([]Handle[*chainState]{h})
	if err := p.Execute(context.Background(), &chainState{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := p.Execute(context.Background(), &chainState{}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("HandleFunc must not cache, got %d calls", calls.Load())
	}
}
