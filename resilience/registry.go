package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// DependencyKey identifies one logical remote dependency, such as
// "payment-service" or "database".
type DependencyKey string

// latencyWindowSize is the number of recent attempt latencies kept per dependency.
const latencyWindowSize = 256

// Dependency bundles the breaker, pool and retry policy that govern calls
// to one key. Its fields are fixed at creation; all mutable state lives in
// the breaker, pool and limiter and changes only through their methods.
type Dependency struct {
	key     DependencyKey
	policy  Policy
	breaker *CircuitBreaker
	pool    *Pool
	limiter *RateLimiter
	backoff *Backoff

	latencyMu sync.Mutex
	latencies [latencyWindowSize]time.Duration
	latencyN  int
	latencyAt int
}

// Key returns the dependency's key.
func (d *Dependency) Key() DependencyKey { return d.key }

// Policy returns the policy the dependency was created with.
func (d *Dependency) Policy() Policy { return d.policy }

// Breaker returns the dependency's circuit breaker.
func (d *Dependency) Breaker() *CircuitBreaker { return d.breaker }

// Pool returns the dependency's pool accountant.
func (d *Dependency) Pool() *Pool { return d.pool }

// Limiter returns the dependency's rate limiter, or nil when unlimited.
func (d *Dependency) Limiter() *RateLimiter { return d.limiter }

// Backoff returns the dependency's retry backoff.
func (d *Dependency) Backoff() *Backoff { return d.backoff }

// Latencies returns a copy of the most recent attempt latencies, oldest first.
func (d *Dependency) Latencies() []time.Duration {
	d.latencyMu.Lock()
	defer d.latencyMu.Unlock()

	out := make([]time.Duration, 0, d.latencyN)
	start := d.latencyAt - d.latencyN
	if start < 0 {
		start += latencyWindowSize
	}
	for i := 0; i < d.latencyN; i++ {
		out = append(out, d.latencies[(start+i)%latencyWindowSize])
	}
	return out
}

func (d *Dependency) observeLatency(elapsed time.Duration) {
	d.latencyMu.Lock()
	defer d.latencyMu.Unlock()

	d.latencies[d.latencyAt] = elapsed
	d.latencyAt = (d.latencyAt + 1) % latencyWindowSize
	if d.latencyN < latencyWindowSize {
		d.latencyN++
	}
}

func (d *Dependency) reset() {
	d.breaker.Reset()
	d.pool.Reset()
	if d.limiter != nil {
		d.limiter.Reset()
	}
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// Default is the policy for keys without an entry in Policies.
	// Default: DefaultPolicy()
	Default *Policy

	// Policies holds per-key overrides.
	Policies map[DependencyKey]Policy

	// OnStateChange is called after every breaker transition.
	OnStateChange func(key DependencyKey, from, to State)

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Registry owns the per-dependency state for one process. Construct it once
// at startup, pass it to the collaborators that need it, and tear it down
// with Close. Distinct keys never share a lock on the call path.
type Registry struct {
	config RegistryConfig

	mu     sync.RWMutex
	deps   map[DependencyKey]*Dependency
	closed bool
}

// NewRegistry validates every configured policy and returns an empty registry.
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Default == nil {
		def := DefaultPolicy()
		config.Default = &def
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	var errs []error
	if err := config.Default.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("default policy: %w", err))
	}
	for key, p := range config.Policies {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("policy %q: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return &Registry{
		config: config,
		deps:   make(map[DependencyKey]*Dependency),
	}, nil
}

// PolicyFor returns the policy that applies to key.
func (r *Registry) PolicyFor(key DependencyKey) Policy {
	if p, ok := r.config.Policies[key]; ok {
		return p
	}
	return *r.config.Default
}

// Get returns the dependency for key, creating it on first use.
func (r *Registry) Get(key DependencyKey) (*Dependency, error) {
	r.mu.RLock()
	d, ok := r.deps[key]
	closed := r.closed
	r.mu.RUnlock()

	if closed {
		return nil, ErrRegistryClosed
	}
	if ok {
		return d, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if d, ok := r.deps[key]; ok {
		return d, nil
	}

	d = r.newDependency(key)
	r.deps[key] = d
	return d, nil
}

func (r *Registry) newDependency(key DependencyKey) *Dependency {
	p := r.PolicyFor(key)

	var onChange func(from, to State)
	if r.config.OnStateChange != nil {
		notify := r.config.OnStateChange
		onChange = func(from, to State) { notify(key, from, to) }
	}

	return &Dependency{
		key:    key,
		policy: p,
		breaker: NewCircuitBreaker(CircuitBreakerConfig{
			FailureThreshold:    p.FailureThreshold,
			RecoveryTimeout:     p.RecoveryTimeout,
			HalfOpenMaxRequests: 1,
			OnStateChange:       onChange,
			Now:                 r.config.Now,
		}),
		pool: NewPool(PoolConfig{
			Key:      key,
			Capacity: p.PoolCapacity,
			Now:      r.config.Now,
		}),
		limiter: NewRateLimiter(RateLimiterConfig{
			Rate:  p.RateLimit,
			Burst: p.RateBurst,
			Now:   r.config.Now,
		}),
		backoff: NewBackoff(p.BackoffBase, p.BackoffMultiplier, p.JitterMax, nil),
	}
}

// Lookup returns the dependency for key without creating it.
func (r *Registry) Lookup(key DependencyKey) (*Dependency, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.deps[key]
	return d, ok
}

// Keys returns every dependency created so far, sorted.
func (r *Registry) Keys() []DependencyKey {
	r.mu.RLock()
	keys := make([]DependencyKey, 0, len(r.deps))
	for k := range r.deps {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Reset forces key's breaker closed and its pool counters to zero. A key
// that is configured but has not been used yet has nothing to reset.
func (r *Registry) Reset(key DependencyKey) error {
	if d, ok := r.Lookup(key); ok {
		d.reset()
		return nil
	}
	if _, ok := r.config.Policies[key]; ok {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownDependency, key)
}

// Close stops admitting calls, fails queued pool waiters, and waits until
// every outstanding call has released its slot or ctx ends.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	deps := make([]*Dependency, 0, len(r.deps))
	for _, d := range r.deps {
		deps = append(deps, d)
	}
	r.mu.Unlock()

	for _, d := range deps {
		d.pool.Close()
	}

	var errs []error
	for _, d := range deps {
		if err := d.pool.Drain(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain %q: %w", d.key, err))
		}
	}
	return errors.Join(errs...)
}
