package health

import (
	"context"
	"fmt"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/jonwraymond/depguard/resilience"
)

// LatencyStats summarizes a dependency's recent attempt latencies in
// milliseconds. Samples is zero until the first attempt completes.
type LatencyStats struct {
	Samples int     `json:"samples"`
	MeanMs  float64 `json:"mean_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
}

// HealthSnapshot is a point-in-time view of one dependency, derived from its
// breaker and pool. It is never written back.
type HealthSnapshot struct {
	Dependency      resilience.DependencyKey `json:"dependency"`
	CircuitState    resilience.State         `json:"circuit_state"`
	PoolUtilization float64                  `json:"pool_utilization"`
	FailureCount    int                      `json:"failure_count"`
	LastFailure     time.Time                `json:"last_failure,omitzero"`

	PoolCapacity    int          `json:"pool_capacity"`
	PoolOutstanding int          `json:"pool_outstanding"`
	PoolWaiters     int          `json:"pool_waiters"`
	RetryAt         time.Time    `json:"retry_at,omitzero"`
	Latency         LatencyStats `json:"latency"`
	TakenAt         time.Time    `json:"taken_at"`
}

// ReporterConfig configures a Reporter.
type ReporterConfig struct {
	// DegradedUtilization is the pool utilization at or above which a
	// closed dependency is reported degraded.
	// Default: 0.8
	DegradedUtilization float64

	// Now returns the current time.
	// Default: time.Now
	Now func() time.Time
}

// Reporter derives health snapshots from a resilience.Registry. It only
// reads breaker and pool state; polling it never changes how calls behave.
type Reporter struct {
	registry *resilience.Registry
	config   ReporterConfig
	probes   *Aggregator
}

// NewReporter creates a reporter over reg.
func NewReporter(reg *resilience.Registry, config ...ReporterConfig) *Reporter {
	cfg := ReporterConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.DegradedUtilization <= 0 || cfg.DegradedUtilization > 1 {
		cfg.DegradedUtilization = 0.8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reporter{
		registry: reg,
		config:   cfg,
		probes:   NewAggregator(),
	}
}

// Snapshot returns the current snapshot for key. Keys that have never been
// used return resilience.ErrUnknownDependency; Snapshot does not create them.
func (r *Reporter) Snapshot(key resilience.DependencyKey) (HealthSnapshot, error) {
	dep, ok := r.registry.Lookup(key)
	if !ok {
		return HealthSnapshot{}, fmt.Errorf("%w: %q", resilience.ErrUnknownDependency, key)
	}
	return r.snapshot(dep), nil
}

// SnapshotAll returns a snapshot of every dependency in use, ordered by key.
func (r *Reporter) SnapshotAll() []HealthSnapshot {
	keys := r.registry.Keys()
	out := make([]HealthSnapshot, 0, len(keys))
	for _, key := range keys {
		if dep, ok := r.registry.Lookup(key); ok {
			out = append(out, r.snapshot(dep))
		}
	}
	return out
}

func (r *Reporter) snapshot(dep *resilience.Dependency) HealthSnapshot {
	bm := dep.Breaker().Metrics()
	pm := dep.Pool().Metrics()

	return HealthSnapshot{
		Dependency:      dep.Key(),
		CircuitState:    bm.State,
		PoolUtilization: pm.Utilization,
		FailureCount:    bm.ConsecutiveFailures,
		LastFailure:     bm.LastFailure,
		PoolCapacity:    pm.Capacity,
		PoolOutstanding: pm.Outstanding,
		PoolWaiters:     pm.Waiters,
		RetryAt:         bm.RetryAt,
		Latency:         latencyStats(dep.Latencies()),
		TakenAt:         r.config.Now(),
	}
}

func latencyStats(window []time.Duration) LatencyStats {
	if len(window) == 0 {
		return LatencyStats{}
	}
	xs := make([]float64, len(window))
	for i, d := range window {
		xs[i] = float64(d.Microseconds()) / 1000
	}
	mean := stat.Mean(xs, nil)
	slices.Sort(xs)
	return LatencyStats{
		Samples: len(xs),
		MeanMs:  mean,
		P50Ms:   stat.Quantile(0.5, stat.Empirical, xs, nil),
		P95Ms:   stat.Quantile(0.95, stat.Empirical, xs, nil),
	}
}

// Status derives the health status of a snapshot:
//   - open circuit: unhealthy
//   - half-open circuit, queued waiters, or utilization at or above the
//     degraded threshold: degraded
//   - otherwise healthy
func (r *Reporter) Status(s HealthSnapshot) Status {
	switch {
	case s.CircuitState == resilience.StateOpen:
		return StatusUnhealthy
	case s.CircuitState == resilience.StateHalfOpen,
		s.PoolWaiters > 0,
		s.PoolUtilization >= r.config.DegradedUtilization:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Result converts a snapshot to a check Result.
func (r *Reporter) Result(s HealthSnapshot) Result {
	details := map[string]any{
		"circuit_state":    s.CircuitState.String(),
		"pool_utilization": s.PoolUtilization,
		"pool_outstanding": s.PoolOutstanding,
		"pool_capacity":    s.PoolCapacity,
		"failure_count":    s.FailureCount,
	}
	if !s.LastFailure.IsZero() {
		details["last_failure"] = s.LastFailure.UTC().Format(time.RFC3339)
	}
	if s.Latency.Samples > 0 {
		details["latency_p95_ms"] = s.Latency.P95Ms
	}

	var res Result
	switch r.Status(s) {
	case StatusUnhealthy:
		res = Unhealthy("circuit open", resilience.ErrCircuitOpen)
	case StatusDegraded:
		res = Degraded(degradedReason(s))
	default:
		res = Healthy("ok")
	}
	res.Timestamp = s.TakenAt
	return res.WithDetails(details)
}

func degradedReason(s HealthSnapshot) string {
	if s.CircuitState == resilience.StateHalfOpen {
		return "circuit half-open"
	}
	return "pool near capacity"
}

// Checker adapts the snapshot of key to a Checker. A key that has not been
// used yet reports healthy.
func (r *Reporter) Checker(key resilience.DependencyKey) Checker {
	return NewCheckerFunc("dependency:"+string(key), func(ctx context.Context) Result {
		s, err := r.Snapshot(key)
		if err != nil {
			return Healthy("not used yet")
		}
		return r.Result(s)
	})
}

// RegisterProbe adds an active liveness probe, for example a ping against
// a dependency's health endpoint. Probes run only from Probe.
func (r *Reporter) RegisterProbe(c Checker) {
	r.probes.Register(c.Name(), c)
}

// Probe runs every registered probe concurrently.
func (r *Reporter) Probe(ctx context.Context) map[string]Result {
	return r.probes.CheckAll(ctx)
}
