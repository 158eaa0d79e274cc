package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/jonwraymond/depguard/resilience"
)

type callSpanKey struct{}

// Instrumentation connects an Executor to tracing, metrics, and logging.
//
// Contract:
//   - Concurrency: the hooks it returns are safe for concurrent use.
//   - Context: each call's span is carried in the context handed to later hooks.
//   - Errors: errors are recorded, never altered or swallowed.
type Instrumentation struct {
	tracer  Tracer
	metrics Metrics
	logger  Logger
}

// NewInstrumentation creates an Instrumentation. Nil components are replaced
// by no-ops.
func NewInstrumentation(tracer Tracer, metrics Metrics, logger Logger) *Instrumentation {
	if tracer == nil {
		tracer = NewNoopTracer()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	if logger == nil {
		logger = NopLogger()
	}
	return &Instrumentation{
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}
}

// InstrumentationFromObserver creates an Instrumentation from an Observer.
// This is a convenience function for common use cases.
func InstrumentationFromObserver(obs Observer) (*Instrumentation, error) {
	if obs == nil {
		return nil, ErrNilObserver
	}
	metrics, err := NewMetrics(obs.Meter())
	if err != nil {
		return nil, err
	}
	return NewInstrumentation(NewTracer(obs.Tracer()), metrics, obs.Logger()), nil
}

// Hooks returns executor hooks that trace, measure, and log every call.
func (in *Instrumentation) Hooks() resilience.Hooks {
	return resilience.Hooks{
		OnStart:    in.onStart,
		OnPoolWait: in.onPoolWait,
		OnAttempt:  in.onAttempt,
		OnFinish:   in.onFinish,
	}
}

// OnStateChange logs and counts a breaker transition. Its signature matches
// resilience.RegistryConfig.OnStateChange.
func (in *Instrumentation) OnStateChange(key resilience.DependencyKey, from, to resilience.State) {
	ctx := context.Background()
	in.metrics.RecordTransition(ctx, key, from, to)

	fields := []Field{
		{Key: "dependency", Value: string(key)},
		{Key: "from", Value: from.String()},
		{Key: "to", Value: to.String()},
	}
	if to == resilience.StateOpen {
		in.logger.Warn(ctx, "circuit breaker opened", fields...)
		return
	}
	in.logger.Info(ctx, "circuit breaker state changed", fields...)
}

func (in *Instrumentation) onStart(ctx context.Context, key resilience.DependencyKey) context.Context {
	ctx, span := in.tracer.StartCall(ctx, key)
	return context.WithValue(ctx, callSpanKey{}, span)
}

func (in *Instrumentation) onPoolWait(ctx context.Context, key resilience.DependencyKey, waited time.Duration, err error) {
	in.metrics.RecordPoolWait(ctx, key, waited, err)
}

func (in *Instrumentation) onAttempt(ctx context.Context, rec resilience.AttemptRecord) {
	if span, ok := ctx.Value(callSpanKey{}).(trace.Span); ok {
		in.tracer.RecordAttempt(span, rec)
	}
	in.metrics.RecordAttempt(ctx, rec)

	if rec.Err != nil {
		in.logger.Debug(ctx, "dependency attempt failed",
			Field{Key: "dependency", Value: string(rec.Key)},
			Field{Key: "attempt", Value: rec.Attempt},
			Field{Key: "outcome", Value: rec.Outcome.String()},
			Field{Key: "duration_ms", Value: millis(rec.Elapsed)},
			Field{Key: "error", Value: rec.Err.Error()},
		)
	}
}

func (in *Instrumentation) onFinish(ctx context.Context, key resilience.DependencyKey, attempts int, elapsed time.Duration, err error) {
	if span, ok := ctx.Value(callSpanKey{}).(trace.Span); ok {
		in.tracer.EndCall(span, attempts, err)
	}
	in.metrics.RecordCall(ctx, key, attempts, elapsed, err)

	fields := []Field{
		{Key: "dependency", Value: string(key)},
		{Key: "attempts", Value: attempts},
		{Key: "duration_ms", Value: millis(elapsed)},
	}
	if err == nil {
		in.logger.Debug(ctx, "dependency call completed", fields...)
		return
	}

	class := ErrorClass(err)
	fields = append(fields,
		Field{Key: "error_class", Value: class},
		Field{Key: "error", Value: err.Error()},
	)
	switch class {
	case "caller_fault", "canceled":
		in.logger.Info(ctx, "dependency call rejected", fields...)
	case "circuit_open", "pool_exhausted", "shutdown":
		in.logger.Warn(ctx, "dependency call shed", fields...)
	default:
		in.logger.Error(ctx, "dependency call failed", fields...)
	}
}
