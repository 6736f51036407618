// Package telemetry bootstraps OpenTelemetry tracing and exposes the metric
// instruments recorded by the pipeline engine and the serve command.
package telemetry
