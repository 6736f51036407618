package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// StepOutcome classifies how a step execution ended.
type StepOutcome string

const (
	// OutcomeCompleted indicates the step ran and invoked its continuation.
	OutcomeCompleted StepOutcome = "completed"
	// OutcomeShortCircuit indicates the step completed without invoking its
	// continuation, halting the chain early.
	OutcomeShortCircuit StepOutcome = "short_circuit"
	// OutcomeFailure indicates the step returned an error.
	OutcomeFailure StepOutcome = "failure"
)

var (
	metricsOnce             sync.Once
	metricsInitErr          error
	stepExecutionCounter    metric.Int64Counter
	stepShortCircuitCounter metric.Int64Counter
	stepFailureCounter      metric.Int64Counter
	stepLatencyHistogram    metric.Float64Histogram
)

// StepMetrics captures the fields needed to record step telemetry.
type StepMetrics struct {
	Pipeline string
	Step     string
	Position int
	Outcome  StepOutcome
	Duration time.Duration
}

// RecordStepMetrics emits counters and a latency histogram describing a
// single step execution.
func RecordStepMetrics(ctx context.Context, metrics StepMetrics) {
	if err := ensureMetrics(); err != nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("pipeline.name", metrics.Pipeline),
		attribute.String("step.name", metrics.Step),
		attribute.Int("step.position", metrics.Position),
		attribute.String("step.outcome", string(metrics.Outcome)),
	}

	stepExecutionCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if metrics.Duration > 0 {
		stepLatencyHistogram.Record(ctx, float64(metrics.Duration)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}

	switch metrics.Outcome {
	case OutcomeShortCircuit:
		stepShortCircuitCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	case OutcomeFailure:
		stepFailureCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func ensureMetrics() error {
	metricsOnce.Do(func() {
		meter := otel.GetMeterProvider().Meter("stepflow.pipeline")

		stepExecutionCounter, metricsInitErr = meter.Int64Counter(
			"stepflow.step.executions_total",
			metric.WithDescription("Step executions partitioned by outcome"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepShortCircuitCounter, metricsInitErr = meter.Int64Counter(
			"stepflow.step.short_circuits_total",
			metric.WithDescription("Steps that completed without invoking their continuation"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepFailureCounter, metricsInitErr = meter.Int64Counter(
			"stepflow.step.failures_total",
			metric.WithDescription("Step executions that returned an error"),
			metric.WithUnit("{count}"),
		)
		if metricsInitErr != nil {
			return
		}

		stepLatencyHistogram, metricsInitErr = meter.Float64Histogram(
			"stepflow.step.duration_ms",
			metric.WithDescription("Step execution latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
	return metricsInitErr
}
