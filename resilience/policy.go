package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Policy holds every parameter that governs calls to one dependency.
// The executor applies no hidden defaults: a Policy must pass Validate
// before a Registry will accept it.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// PerAttemptTimeout bounds a single attempt.
	PerAttemptTimeout time.Duration

	// PoolAcquireDeadline bounds the wait for a pool slot. Zero means fail
	// immediately when the pool is full.
	PoolAcquireDeadline time.Duration

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier scales the delay for each further retry.
	BackoffMultiplier float64

	// JitterMax is the upper bound of the uniform jitter added to each delay.
	JitterMax time.Duration

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before admitting a probe.
	RecoveryTimeout time.Duration

	// PoolCapacity is the ceiling of concurrently outstanding calls.
	PoolCapacity int

	// RateLimit is an optional client-side ceiling in attempts per second.
	// Zero disables the limiter.
	RateLimit float64

	// RateBurst is the limiter's bucket size. Ignored when RateLimit is zero.
	RateBurst int
}

// DefaultPolicy returns the documented safe defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		PerAttemptTimeout:   30 * time.Second,
		PoolAcquireDeadline: 5 * time.Second,
		BackoffBase:         time.Second,
		BackoffMultiplier:   1.5,
		JitterMax:           100 * time.Millisecond,
		FailureThreshold:    5,
		RecoveryTimeout:     time.Minute,
		PoolCapacity:        10,
	}
}

// Validate reports every invalid field. Each returned error wraps ErrInvalidPolicy.
func (p Policy) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidPolicy, fmt.Sprintf(format, args...)))
	}

	if p.MaxAttempts < 1 {
		invalid("max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.PerAttemptTimeout <= 0 {
		invalid("per-attempt timeout must be positive, got %s", p.PerAttemptTimeout)
	}
	if p.PoolAcquireDeadline < 0 {
		invalid("pool acquire deadline must not be negative, got %s", p.PoolAcquireDeadline)
	}
	if p.BackoffBase < 0 {
		invalid("backoff base must not be negative, got %s", p.BackoffBase)
	}
	if p.BackoffMultiplier < 1 {
		invalid("backoff multiplier must be >= 1, got %g", p.BackoffMultiplier)
	}
	if p.JitterMax < 0 {
		invalid("jitter must not be negative, got %s", p.JitterMax)
	}
	if p.FailureThreshold < 1 {
		invalid("failure threshold must be >= 1, got %d", p.FailureThreshold)
	}
	if p.RecoveryTimeout <= 0 {
		invalid("recovery timeout must be positive, got %s", p.RecoveryTimeout)
	}
	if p.PoolCapacity < 1 {
		invalid("pool capacity must be >= 1, got %d", p.PoolCapacity)
	}
	if p.RateLimit < 0 {
		invalid("rate limit must not be negative, got %g", p.RateLimit)
	}
	if p.RateLimit > 0 && p.RateBurst < 1 {
		invalid("rate burst must be >= 1 when rate limit is set, got %d", p.RateBurst)
	}

	return errors.Join(errs...)
}
