package health

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonwraymond/depguard/resilience"
)

func newTestRegistry(t *testing.T, p resilience.Policy) *resilience.Registry {
	t.Helper()
	reg, err := resilience.NewRegistry(resilience.RegistryConfig{Default: &p})
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func TestReporter_SnapshotUnknown(t *testing.T) {
	reg := newTestRegistry(t, resilience.DefaultPolicy())
	r := NewReporter(reg)

	if _, err := r.Snapshot("database"); !errors.Is(err, resilience.ErrUnknownDependency) {
		t.Errorf("Snapshot() error = %v, want ErrUnknownDependency", err)
	}
	if _, ok := reg.Lookup("database"); ok {
		t.Error("Snapshot() created the dependency")
	}
}

func TestReporter_Snapshot(t *testing.T) {
	p := resilience.DefaultPolicy()
	p.PoolCapacity = 4
	reg := newTestRegistry(t, p)

	taken := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewReporter(reg, ReporterConfig{Now: func() time.Time { return taken }})

	dep, _ := reg.Get("payment-service")
	dep.Breaker().OnFailure()
	dep.Breaker().OnFailure()
	if _, err := dep.Pool().Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	s, err := r.Snapshot("payment-service")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if s.Dependency != "payment-service" {
		t.Errorf("Dependency = %q, want payment-service", s.Dependency)
	}
	if s.CircuitState != resilience.StateClosed {
		t.Errorf("CircuitState = %v, want closed", s.CircuitState)
	}
	if s.FailureCount != 2 {
		t.Errorf("FailureCount = %d, want 2", s.FailureCount)
	}
	if s.LastFailure.IsZero() {
		t.Error("LastFailure should be set")
	}
	if s.PoolUtilization != 0.25 || s.PoolOutstanding != 1 || s.PoolCapacity != 4 {
		t.Errorf("pool = %v %d/%d, want 0.25 1/4", s.PoolUtilization, s.PoolOutstanding, s.PoolCapacity)
	}
	if !s.TakenAt.Equal(taken) {
		t.Errorf("TakenAt = %v, want %v", s.TakenAt, taken)
	}
	if got := r.Status(s); got != StatusHealthy {
		t.Errorf("Status() = %v, want healthy", got)
	}
}

func TestReporter_SnapshotIsSideEffectFree(t *testing.T) {
	p := resilience.DefaultPolicy()
	p.FailureThreshold = 1
	p.RecoveryTimeout = time.Millisecond
	reg := newTestRegistry(t, p)
	r := NewReporter(reg)

	dep, _ := reg.Get("api")
	dep.Breaker().OnFailure()
	time.Sleep(5 * time.Millisecond)

	for i := 0; i < 10; i++ {
		s, _ := r.Snapshot("api")
		if s.CircuitState != resilience.StateOpen {
			t.Fatalf("CircuitState = %v, want open (snapshot must not transition)", s.CircuitState)
		}
	}
	if got := dep.Breaker().State(); got != resilience.StateOpen {
		t.Errorf("breaker state after polling = %v, want open", got)
	}
	if got := dep.Pool().Metrics().Acquired; got != 0 {
		t.Errorf("pool acquired = %d after polling, want 0", got)
	}
}

func TestReporter_SnapshotAll(t *testing.T) {
	reg := newTestRegistry(t, resilience.DefaultPolicy())
	r := NewReporter(reg)

	for _, k := range []resilience.DependencyKey{"payment-service", "api", "database"} {
		if _, err := reg.Get(k); err != nil {
			t.Fatalf("Get() error = %v", err)
		}
	}

	snaps := r.SnapshotAll()
	if len(snaps) != 3 {
		t.Fatalf("SnapshotAll() returned %d, want 3", len(snaps))
	}
	want := []resilience.DependencyKey{"api", "database", "payment-service"}
	for i, s := range snaps {
		if s.Dependency != want[i] {
			t.Errorf("SnapshotAll()[%d] = %q, want %q", i, s.Dependency, want[i])
		}
	}
}

func TestReporter_Status(t *testing.T) {
	r := NewReporter(newTestRegistry(t, resilience.DefaultPolicy()), ReporterConfig{DegradedUtilization: 0.9})

	tests := []struct {
		name string
		snap HealthSnapshot
		want Status
	}{
		{"closed idle", HealthSnapshot{CircuitState: resilience.StateClosed}, StatusHealthy},
		{"closed busy", HealthSnapshot{CircuitState: resilience.StateClosed, PoolUtilization: 0.5}, StatusHealthy},
		{"closed near capacity", HealthSnapshot{CircuitState: resilience.StateClosed, PoolUtilization: 0.9}, StatusDegraded},
		{"closed with waiters", HealthSnapshot{CircuitState: resilience.StateClosed, PoolWaiters: 1}, StatusDegraded},
		{"half-open", HealthSnapshot{CircuitState: resilience.StateHalfOpen}, StatusDegraded},
		{"open", HealthSnapshot{CircuitState: resilience.StateOpen}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Status(tt.snap); got != tt.want {
				t.Errorf("Status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLatencyStats(t *testing.T) {
	if got := latencyStats(nil); got.Samples != 0 {
		t.Errorf("latencyStats(nil).Samples = %d, want 0", got.Samples)
	}

	window := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		window = append(window, time.Duration(i)*time.Millisecond)
	}
	got := latencyStats(window)

	if got.Samples != 100 {
		t.Errorf("Samples = %d, want 100", got.Samples)
	}
	if math.Abs(got.MeanMs-50.5) > 1e-9 {
		t.Errorf("MeanMs = %v, want 50.5", got.MeanMs)
	}
	if got.P50Ms != 50 {
		t.Errorf("P50Ms = %v, want 50", got.P50Ms)
	}
	if got.P95Ms != 95 {
		t.Errorf("P95Ms = %v, want 95", got.P95Ms)
	}
}

func TestReporter_Checker(t *testing.T) {
	p := resilience.DefaultPolicy()
	p.FailureThreshold = 1
	reg := newTestRegistry(t, p)
	r := NewReporter(reg)

	c := r.Checker("payment-service")
	if c.Name() != "dependency:payment-service" {
		t.Errorf("Name() = %q, want dependency:payment-service", c.Name())
	}
	if res := c.Check(context.Background()); res.Status != StatusHealthy {
		t.Errorf("unused dependency status = %v, want healthy", res.Status)
	}

	dep, _ := reg.Get("payment-service")
	dep.Breaker().OnFailure()

	res := c.Check(context.Background())
	if res.Status != StatusUnhealthy {
		t.Errorf("open dependency status = %v, want unhealthy", res.Status)
	}
	if !errors.Is(res.Error, resilience.ErrCircuitOpen) {
		t.Errorf("Error = %v, want ErrCircuitOpen", res.Error)
	}
	if res.Details["circuit_state"] != "open" {
		t.Errorf("Details[circuit_state] = %v, want open", res.Details["circuit_state"])
	}
}

func TestReporter_Probe(t *testing.T) {
	r := NewReporter(newTestRegistry(t, resilience.DefaultPolicy()))
	r.RegisterProbe(NewPingChecker("payment-ping", pingFunc(func(ctx context.Context) error {
		return errors.New("connection refused")
	})))

	results := r.Probe(context.Background())
	if got := results["payment-ping"].Status; got != StatusUnhealthy {
		t.Errorf("probe status = %v, want unhealthy", got)
	}
}
