// Package tracing is a thin optional wrapper around an OpenTelemetry
// tracer, no-op by default, so Handler can emit spans
// without the rest of the codebase depending on whether a real exporter
// is wired in. Grounded on the teacher's pattern of a package-level
// overridable handle (SetLogger across internal/*), applied here to a
// tracer instead of a logger.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/inductiva/task-runner"

var tracer trace.Tracer = otel.Tracer(instrumentationName)

// SetTracerProvider swaps the package tracer to one backed by provider,
// for processes that wire in a real OpenTelemetry exporter; callers that
// never call this keep the global no-op tracer.
func SetTracerProvider(provider trace.TracerProvider) {
	tracer = provider.Tracer(instrumentationName)
}

// StartSpan starts a span named name as a child of ctx, returning the
// derived context and a func to end it. Safe to call even when no
// TracerProvider was ever configured: otel's default tracer produces
// spans that are dropped rather than exported.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	ctx, span := tracer.Start(ctx, name)
	return ctx, func() { span.End() }
}
