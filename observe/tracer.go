package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/depguard/resilience"
)

// SpanName returns the deterministic span name for a dependency call.
// Format: dependency.call.<key>
func SpanName(key resilience.DependencyKey) string {
	return "dependency.call." + string(key)
}

// ErrorClass maps an Execute error to a short, low-cardinality label used
// on spans, metrics and log records. It returns "" for nil.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, resilience.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, resilience.ErrPoolClosed), errors.Is(err, resilience.ErrRegistryClosed):
		return "shutdown"
	case errors.Is(err, resilience.ErrCallerFault):
		return "caller_fault"
	case errors.Is(err, resilience.ErrRetriesExhausted):
		return "retries_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}

// Tracer wraps OpenTelemetry tracing with dependency-call span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartCall returns a context carrying the new span.
// - Errors: RecordAttempt and EndCall must be best-effort and must not panic.
type Tracer interface {
	// StartCall starts a span covering one Execute call.
	StartCall(ctx context.Context, key resilience.DependencyKey) (context.Context, trace.Span)

	// RecordAttempt adds an event describing one attempt to the span.
	RecordAttempt(span trace.Span, rec resilience.AttemptRecord)

	// EndCall ends the span, recording the terminal error if any.
	EndCall(span trace.Span, attempts int, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	if t == nil {
		return NewNoopTracer()
	}
	return &tracerImpl{tracer: t}
}

// StartCall starts a span with the dependency key as an attribute.
func (t *tracerImpl) StartCall(ctx context.Context, key resilience.DependencyKey) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanName(key),
		trace.WithAttributes(
			attribute.String("dependency.key", string(key)),
			attribute.Bool("dependency.error", false), // Updated in EndCall
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// RecordAttempt records an "attempt" span event.
func (t *tracerImpl) RecordAttempt(span trace.Span, rec resilience.AttemptRecord) {
	attrs := []attribute.KeyValue{
		attribute.Int("attempt.number", rec.Attempt),
		attribute.String("attempt.outcome", rec.Outcome.String()),
		attribute.Float64("attempt.duration_ms", float64(rec.Elapsed.Microseconds())/1000),
		attribute.Bool("attempt.timed_out", rec.TimedOut()),
	}
	if rec.Err != nil {
		attrs = append(attrs, attribute.String("attempt.error", rec.Err.Error()))
	}
	span.AddEvent("attempt", trace.WithAttributes(attrs...))
}

// EndCall ends the span and records the error status if present.
func (t *tracerImpl) EndCall(span trace.Span, attempts int, err error) {
	span.SetAttributes(attribute.Int("dependency.attempts", attempts))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.Bool("dependency.error", true),
			attribute.String("dependency.error_class", ErrorClass(err)),
		)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartCall(ctx context.Context, key resilience.DependencyKey) (context.Context, trace.Span) {
	return t.noop.Start(ctx, SpanName(key))
}

func (t *noopTracer) RecordAttempt(span trace.Span, rec resilience.AttemptRecord) {}

func (t *noopTracer) EndCall(span trace.Span, attempts int, err error) {
	span.End()
}
