// Package telemetry provides opt-in tracing for sync passes.
//
// Nothing is exported unless the host installs a tracer provider through
// EnableTelemetry. Until then every span comes from the global OpenTelemetry
// provider, which is a no-op by default.
package telemetry

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/kimhsiao/spiritlog/backend"

var enabled atomic.Bool

// IsEnabled reports whether the user opted in to telemetry.
func IsEnabled() bool {
	return enabled.Load()
}

// EnableTelemetry installs provider as the global tracer provider.
func EnableTelemetry(provider trace.TracerProvider) error {
	if provider == nil {
		return errors.New("tracer provider is required")
	}
	otel.SetTracerProvider(provider)
	enabled.Store(true)
	return nil
}

// DisableTelemetry marks telemetry as disabled. Spans already in flight finish
// on the provider they started with.
func DisableTelemetry() {
	enabled.Store(false)
}

// Tracer returns the tracer used by the sync core.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
