package observe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jonwraymond/depguard/resilience"
)

// Metrics records execution metrics for dependency calls.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return quickly.
// - Errors: implementations must not panic.
type Metrics interface {
	// RecordCall records one Execute call with its total duration and result.
	RecordCall(ctx context.Context, key resilience.DependencyKey, attempts int, duration time.Duration, err error)

	// RecordAttempt records one attempt.
	RecordAttempt(ctx context.Context, rec resilience.AttemptRecord)

	// RecordPoolWait records time spent waiting for a pool slot.
	RecordPoolWait(ctx context.Context, key resilience.DependencyKey, waited time.Duration, err error)

	// RecordTransition records a circuit breaker state change.
	RecordTransition(ctx context.Context, key resilience.DependencyKey, from, to resilience.State)
}

// metricsImpl is the concrete implementation of Metrics.
type metricsImpl struct {
	meter        metric.Meter
	callCount    metric.Int64Counter
	errorCount   metric.Int64Counter
	callDuration metric.Float64Histogram
	attemptCount metric.Int64Counter
	attemptHist  metric.Float64Histogram
	poolWaitHist metric.Float64Histogram
	poolRejected metric.Int64Counter
	transitions  metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (Metrics, error) {
	m := &metricsImpl{meter: meter}
	var err error

	if m.callCount, err = meter.Int64Counter(
		"dependency.calls.total",
		metric.WithDescription("Total number of dependency calls"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.errorCount, err = meter.Int64Counter(
		"dependency.calls.errors",
		metric.WithDescription("Total number of failed dependency calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}

	if m.callDuration, err = meter.Float64Histogram(
		"dependency.call.duration_ms",
		metric.WithDescription("Dependency call duration including retries, in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.attemptCount, err = meter.Int64Counter(
		"dependency.attempts.total",
		metric.WithDescription("Total number of attempts made against dependencies"),
		metric.WithUnit("{attempt}"),
	); err != nil {
		return nil, err
	}

	if m.attemptHist, err = meter.Float64Histogram(
		"dependency.attempt.duration_ms",
		metric.WithDescription("Single attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.poolWaitHist, err = meter.Float64Histogram(
		"dependency.pool.wait_ms",
		metric.WithDescription("Time spent waiting for a pool slot in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.poolRejected, err = meter.Int64Counter(
		"dependency.pool.rejected",
		metric.WithDescription("Calls rejected because no pool slot became available"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}

	if m.transitions, err = meter.Int64Counter(
		"dependency.breaker.transitions",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{transition}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func keyAttr(key resilience.DependencyKey) attribute.KeyValue {
	return attribute.String("dependency.key", string(key))
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// RecordCall records metrics for a dependency call.
func (m *metricsImpl) RecordCall(ctx context.Context, key resilience.DependencyKey, attempts int, duration time.Duration, err error) {
	opt := metric.WithAttributes(keyAttr(key))

	m.callCount.Add(ctx, 1, opt)
	if err != nil {
		m.errorCount.Add(ctx, 1, metric.WithAttributes(
			keyAttr(key),
			attribute.String("error.class", ErrorClass(err)),
		))
	}
	m.callDuration.Record(ctx, millis(duration), opt)
}

func (m *metricsImpl) RecordAttempt(ctx context.Context, rec resilience.AttemptRecord) {
	opt := metric.WithAttributes(
		keyAttr(rec.Key),
		attribute.String("attempt.outcome", rec.Outcome.String()),
	)
	m.attemptCount.Add(ctx, 1, opt)
	m.attemptHist.Record(ctx, millis(rec.Elapsed), opt)
}

func (m *metricsImpl) RecordPoolWait(ctx context.Context, key resilience.DependencyKey, waited time.Duration, err error) {
	opt := metric.WithAttributes(keyAttr(key))
	m.poolWaitHist.Record(ctx, millis(waited), opt)
	if err != nil {
		m.poolRejected.Add(ctx, 1, opt)
	}
}

func (m *metricsImpl) RecordTransition(ctx context.Context, key resilience.DependencyKey, from, to resilience.State) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		keyAttr(key),
		attribute.String("breaker.from", from.String()),
		attribute.String("breaker.to", to.String()),
	))
}

// RegisterGauges registers observable gauges for breaker state, pool
// outstanding count and pool utilization of every dependency in reg.
// Breaker state is reported as 0 closed, 1 half-open, 2 open.
func RegisterGauges(meter metric.Meter, reg *resilience.Registry) (metric.Registration, error) {
	state, err := meter.Int64ObservableGauge(
		"dependency.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 half-open, 2 open"),
	)
	if err != nil {
		return nil, err
	}

	outstanding, err := meter.Int64ObservableGauge(
		"dependency.pool.outstanding",
		metric.WithDescription("Pool slots currently held"),
		metric.WithUnit("{slot}"),
	)
	if err != nil {
		return nil, err
	}

	utilization, err := meter.Float64ObservableGauge(
		"dependency.pool.utilization",
		metric.WithDescription("Fraction of pool capacity currently held"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for _, key := range reg.Keys() {
			dep, ok := reg.Lookup(key)
			if !ok {
				continue
			}
			opt := metric.WithAttributes(keyAttr(key))
			o.ObserveInt64(state, stateValue(dep.Breaker().State()), opt)

			pm := dep.Pool().Metrics()
			o.ObserveInt64(outstanding, int64(pm.Outstanding), opt)
			o.ObserveFloat64(utilization, pm.Utilization, opt)
		}
		return nil
	}, state, outstanding, utilization)
}

func stateValue(s resilience.State) int64 {
	switch s {
	case resilience.StateHalfOpen:
		return 1
	case resilience.StateOpen:
		return 2
	default:
		return 0
	}
}

// noopMetrics is a metrics implementation that does nothing.
type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that discards everything.
func NewNoopMetrics() Metrics {
	return noopMetrics{}
}

func (noopMetrics) RecordCall(context.Context, resilience.DependencyKey, int, time.Duration, error) {}
func (noopMetrics) RecordAttempt(context.Context, resilience.AttemptRecord)                        {}
func (noopMetrics) RecordPoolWait(context.Context, resilience.DependencyKey, time.Duration, error) {}
func (noopMetrics) RecordTransition(context.Context, resilience.DependencyKey, resilience.State, resilience.State) {
}
