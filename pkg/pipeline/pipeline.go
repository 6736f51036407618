// Package pipeline implements an ordered chain of processing steps over a
// caller-owned mutable state value. Steps are resolved lazily, run strictly
// in position order, and may short-circuit the chain by completing without
// invoking their continuation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepflow/stepflow-oss/pkg/telemetry"
)

const tracerName = "stepflow.pipeline"

// Pipeline executes an ordered list of step handles against a shared state of
// type T. The handle list is fixed at construction; every Execute call builds
// a fresh continuation chain, so a single Pipeline is safe for concurrent
// executions as long as the steps themselves are.
type Pipeline[T any] struct {
	name    string
	handles []Handle[T]
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option[T any] func(*Pipeline[T])

// WithLogger sets the logging sink. Without it the pipeline logs nothing.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(p *Pipeline[T]) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithName sets the pipeline name used in logs, spans and metrics.
func WithName[T any](name string) Option[T] {
	return func(p *Pipeline[T]) {
		if name != "" {
			p.name = name
		}
	}
}

// New builds a pipeline over the given handles. The slice is copied; the
// caller keeps ownership of the handles themselves.
func New[T any](handles []Handle[T], opts ...Option[T]) *Pipeline[T] {
	p := &Pipeline[T]{
		name:    "pipeline",
		handles: append([]Handle[T](nil), handles...),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Len reports the number of configured steps.
func (p *Pipeline[T]) Len() int { return len(p.handles) }

// Name reports the configured pipeline name.
func (p *Pipeline[T]) Name() string { return p.name }

// StepInfo is one entry of the ordered metadata listing.
type StepInfo struct {
	Name                  string `json:"name"`
	Description           string `json:"description,omitempty"`
	MayShortCircuit       bool   `json:"mayShortCircuit"`
	ShortCircuitCondition string `json:"shortCircuitCondition,omitempty"`
	Position              int    `json:"position"`
}

// Steps resolves every handle once and returns step metadata in configured
// order. Listing never invokes step behaviour and is independent of Execute.
func (p *Pipeline[T]) Steps() ([]StepInfo, error) {
	infos := make([]StepInfo, 0, len(p.handles))
	for i, h := range p.handles {
		step, err := h.Resolve()
		if err != nil {
			return nil, &StepError{Step: handleName(h), Position: i, Err: fmt.Errorf("resolve step: %w", err)}
		}
		meta := step.Metadata()
		infos = append(infos, StepInfo{
			Name:                  meta.Name,
			Description:           meta.Description,
			MayShortCircuit:       meta.MayShortCircuit,
			ShortCircuitCondition: meta.ShortCircuitCondition,
			Position:              i,
		})
	}
	return infos, nil
}

// Execute runs the chain against state. It returns nil when every reached
// step completed, ErrNilState for a nil state, and a *StepError identifying
// the originating step for any failure. Short-circuiting is not a failure.
func (p *Pipeline[T]) Execute(ctx context.Context, state T) error {
	if isNil(state) {
		return ErrNilState
	}

	execID := uuid.NewString()
	logger := p.logger.With("pipeline", p.name, "execution_id", execID)

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("pipeline.name", p.name),
		attribute.String("execution.id", execID),
		attribute.Int("pipeline.step_count", len(p.handles)),
	))
	defer span.End()

	// Terminal continuation: reached only when the last step invokes next.
	next := Next[T](func(context.Context, T) error { return nil })
	for i := len(p.handles) - 1; i >= 0; i-- {
		next = p.wrap(p.handles[i], i, next, logger, tracer)
	}

	if err := next(ctx, state); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// wrap folds one step into the chain. The returned continuation resolves the
// handle, times the step, detects short-circuiting via the invocation flag,
// and wraps failures exactly once.
func (p *Pipeline[T]) wrap(handle Handle[T], position int, next Next[T], logger *slog.Logger, tracer trace.Tracer) Next[T] {
	return func(ctx context.Context, state T) error {
		step, err := handle.Resolve()
		if err != nil {
			err = fmt.Errorf("resolve step: %w", err)
			logger.Error("step resolution failed",
				"step", handleName(handle),
				"position", position,
				"error", err,
			)
			return &StepError{Step: handleName(handle), Position: position, Err: err}
		}
		meta := step.Metadata()

		ctx, span := tracer.Start(ctx, "pipeline.step", trace.WithAttributes(
			attribute.String("step.name", meta.Name),
			attribute.Int("step.position", position),
		))
		defer span.End()

		invoked := false
		wrapped := Next[T](func(ctx context.Context, state T) error {
			if invoked {
				return ErrContinuationReused
			}
			invoked = true
			return next(ctx, state)
		})

		logger.Debug("executing step", "step", meta.Name, "position", position)
		start := time.Now()
		invokeErr := step.Invoke(ctx, state, wrapped)
		elapsed := time.Since(start)

		outcome := telemetry.OutcomeCompleted
		switch {
		case invokeErr != nil:
			outcome = telemetry.OutcomeFailure
		case !invoked:
			outcome = telemetry.OutcomeShortCircuit
		}

		span.SetAttributes(
			attribute.String("step.outcome", string(outcome)),
			attribute.Int64("step.duration_ms", elapsed.Milliseconds()),
		)
		telemetry.RecordStepMetrics(ctx, telemetry.StepMetrics{
			Pipeline: p.name,
			Step:     meta.Name,
			Position: position,
			Outcome:  outcome,
			Duration: elapsed,
		})

		if invokeErr != nil {
			span.RecordError(invokeErr)
			span.SetStatus(codes.Error, invokeErr.Error())

			// A StepError already names the deepest failing step; enclosing
			// frames must pass it through untouched.
			var stepErr *StepError
			if errors.As(invokeErr, &stepErr) {
				return invokeErr
			}
			logger.Error("step failed",
				"step", meta.Name,
				"position", position,
				"elapsed_ms", elapsed.Milliseconds(),
				"error", invokeErr,
			)
			return &StepError{Step: meta.Name, Position: position, Err: invokeErr}
		}

		if invoked {
			logger.Debug("step completed",
				"step", meta.Name,
				"position", position,
				"elapsed_ms", elapsed.Milliseconds(),
			)
		} else {
			logger.Info("step short-circuited",
				"step", meta.Name,
				"position", position,
				"elapsed_ms", elapsed.Milliseconds(),
			)
		}
		return nil
	}
}

// isNil reports whether the state value is nil, typed-nil pointers included.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	default:
		return false
	}
}
