package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	reg, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return reg
}

func TestNewRegistry_InvalidPolicy(t *testing.T) {
	bad := DefaultPolicy()
	bad.MaxAttempts = 0

	_, err := NewRegistry(RegistryConfig{
		Policies: map[DependencyKey]Policy{"payment-service": bad},
	})
	if !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("NewRegistry() error = %v, want ErrInvalidPolicy", err)
	}
}

func TestRegistry_GetLazy(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	if _, ok := reg.Lookup("database"); ok {
		t.Fatal("Lookup() found a dependency before first use")
	}

	d1, err := reg.Get("database")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	d2, _ := reg.Get("database")
	if d1 != d2 {
		t.Error("Get() returned different instances for the same key")
	}
	if d1.Key() != "database" {
		t.Errorf("Key() = %q, want database", d1.Key())
	}

	other, _ := reg.Get("payment-service")
	if other.Breaker() == d1.Breaker() || other.Pool() == d1.Pool() {
		t.Error("distinct keys share breaker or pool state")
	}
}

func TestRegistry_GetConcurrent(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[*Dependency]bool{}
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := reg.Get("api")
			if err != nil {
				t.Errorf("Get() error = %v", err)
				return
			}
			mu.Lock()
			seen[d] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 1 {
		t.Errorf("concurrent Get() created %d dependencies, want 1", len(seen))
	}
}

func TestRegistry_PolicyFor(t *testing.T) {
	def := DefaultPolicy()
	db := DefaultPolicy()
	db.PoolCapacity = 20
	db.RateLimit = 5
	db.RateBurst = 5

	reg := newTestRegistry(t, RegistryConfig{
		Default:  &def,
		Policies: map[DependencyKey]Policy{"database": db},
	})

	d, _ := reg.Get("database")
	if got := d.Pool().Metrics().Capacity; got != 20 {
		t.Errorf("database pool capacity = %d, want 20", got)
	}
	if d.Limiter() == nil {
		t.Error("database limiter = nil, want configured")
	}

	other, _ := reg.Get("other")
	if got := other.Policy().PoolCapacity; got != def.PoolCapacity {
		t.Errorf("other PoolCapacity = %d, want %d", got, def.PoolCapacity)
	}
	if other.Limiter() != nil {
		t.Error("other limiter should be nil when rate limit is disabled")
	}
}

func TestRegistry_Keys(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	for _, k := range []DependencyKey{"payment-service", "api", "database"} {
		if _, err := reg.Get(k); err != nil {
			t.Fatalf("Get(%q) error = %v", k, err)
		}
	}

	want := []DependencyKey{"api", "database", "payment-service"}
	got := reg.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistry_Reset(t *testing.T) {
	p := DefaultPolicy()
	p.FailureThreshold = 1
	reg := newTestRegistry(t, RegistryConfig{Default: &p})

	d, _ := reg.Get("database")
	d.Breaker().OnFailure()
	if _, err := d.Pool().Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := reg.Reset("database"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	if got := d.Breaker().State(); got != StateClosed {
		t.Errorf("State = %v, want closed", got)
	}
	if got := d.Pool().Metrics().Outstanding; got != 0 {
		t.Errorf("Outstanding = %d, want 0", got)
	}

	if err := reg.Reset("nope"); !errors.Is(err, ErrUnknownDependency) {
		t.Errorf("Reset(unknown) error = %v, want ErrUnknownDependency", err)
	}
}

func TestRegistry_ResetConfiguredUnused(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{
		Policies: map[DependencyKey]Policy{"audit-store": DefaultPolicy()},
	})

	if err := reg.Reset("audit-store"); err != nil {
		t.Errorf("Reset() on configured key error = %v, want nil", err)
	}
}

func TestRegistry_OnStateChange(t *testing.T) {
	p := DefaultPolicy()
	p.FailureThreshold = 1

	var got []string
	reg := newTestRegistry(t, RegistryConfig{
		Default: &p,
		OnStateChange: func(key DependencyKey, from, to State) {
			got = append(got, string(key)+":"+from.String()+"->"+to.String())
		},
	})

	d, _ := reg.Get("payment-service")
	d.Breaker().OnFailure()

	if len(got) != 1 || got[0] != "payment-service:closed->open" {
		t.Errorf("transitions = %v, want [payment-service:closed->open]", got)
	}
}

func TestRegistry_Close(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	d, _ := reg.Get("database")
	tok, _ := d.Pool().Acquire(context.Background(), 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Pool().Release(tok)
	}()

	if err := reg.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := reg.Get("database"); !errors.Is(err, ErrRegistryClosed) {
		t.Errorf("Get() after Close error = %v, want ErrRegistryClosed", err)
	}
	if err := reg.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRegistry_CloseDeadline(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})

	d, _ := reg.Get("database")
	if _, err := d.Pool().Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := reg.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want DeadlineExceeded", err)
	}
}

func TestDependency_Latencies(t *testing.T) {
	reg := newTestRegistry(t, RegistryConfig{})
	d, _ := reg.Get("api")

	for i := 1; i <= latencyWindowSize+10; i++ {
		d.observeLatency(time.Duration(i) * time.Millisecond)
	}

	got := d.Latencies()
	if len(got) != latencyWindowSize {
		t.Fatalf("len(Latencies()) = %d, want %d", len(got), latencyWindowSize)
	}
	if got[0] != 11*time.Millisecond {
		t.Errorf("oldest latency = %v, want 11ms", got[0])
	}
	if last := got[len(got)-1]; last != time.Duration(latencyWindowSize+10)*time.Millisecond {
		t.Errorf("newest latency = %v, want %v", last, time.Duration(latencyWindowSize+10)*time.Millisecond)
	}
}

func TestPolicy_Validate(t *testing.T) {
	if err := DefaultPolicy().Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero attempts", func(p *Policy) { p.MaxAttempts = 0 }},
		{"zero timeout", func(p *Policy) { p.PerAttemptTimeout = 0 }},
		{"negative acquire deadline", func(p *Policy) { p.PoolAcquireDeadline = -1 }},
		{"negative base", func(p *Policy) { p.BackoffBase = -1 }},
		{"shrinking multiplier", func(p *Policy) { p.BackoffMultiplier = 0.5 }},
		{"negative jitter", func(p *Policy) { p.JitterMax = -1 }},
		{"zero threshold", func(p *Policy) { p.FailureThreshold = 0 }},
		{"zero recovery", func(p *Policy) { p.RecoveryTimeout = 0 }},
		{"zero capacity", func(p *Policy) { p.PoolCapacity = 0 }},
		{"negative rate", func(p *Policy) { p.RateLimit = -1 }},
		{"rate without burst", func(p *Policy) { p.RateLimit = 5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("Validate() error = %v, want ErrInvalidPolicy", err)
			}
		})
	}
}

func TestPolicy_ValidateReportsAll(t *testing.T) {
	p := Policy{}
	err := p.Validate()
	if err == nil {
		t.Fatal("Validate() on zero policy = nil, want error")
	}

	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		t.Fatalf("Validate() error type %T does not join errors", err)
	}
	if n := len(joined.Unwrap()); n < 5 {
		t.Errorf("Validate() reported %d problems, want every invalid field", n)
	}
}
