package resilience

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is matched by *CircuitOpenError.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrPoolExhausted is matched by *PoolExhaustedError.
	ErrPoolExhausted = errors.New("resilience: pool exhausted")

	// ErrPoolClosed is returned by Acquire after the pool has been closed.
	ErrPoolClosed = errors.New("resilience: pool closed")

	// ErrAttemptTimeout is matched by *AttemptTimeoutError.
	ErrAttemptTimeout = errors.New("resilience: attempt timed out")

	// ErrDependencyFailure is matched by *DependencyFailureError.
	ErrDependencyFailure = errors.New("resilience: dependency failure")

	// ErrCallerFault is matched by *CallerFaultError.
	ErrCallerFault = errors.New("resilience: caller fault")

	// ErrRetriesExhausted is matched by *RetriesExhaustedError.
	ErrRetriesExhausted = errors.New("resilience: retries exhausted")

	// ErrUnknownDependency is returned when a key has never been used.
	ErrUnknownDependency = errors.New("resilience: unknown dependency")

	// ErrRegistryClosed is returned once the registry has been torn down.
	ErrRegistryClosed = errors.New("resilience: registry closed")

	// ErrInvalidPolicy wraps every policy validation failure.
	ErrInvalidPolicy = errors.New("resilience: invalid policy")
)

// CircuitOpenError is returned when a call is rejected without being
// attempted because the dependency's breaker is open.
type CircuitOpenError struct {
	Key DependencyKey

	// RetryAt is the earliest instant a probe may be admitted. Zero when a
	// half-open probe is already in flight.
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("resilience: circuit breaker for %q is open", e.Key)
}

// Is reports whether target is ErrCircuitOpen.
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// PoolExhaustedError is returned when no pool slot became available within
// the acquire deadline.
type PoolExhaustedError struct {
	Key      DependencyKey
	Capacity int
	Waited   time.Duration
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("resilience: pool for %q exhausted (capacity %d, waited %s)", e.Key, e.Capacity, e.Waited)
}

// Is reports whether target is ErrPoolExhausted.
func (e *PoolExhaustedError) Is(target error) bool {
	return target == ErrPoolExhausted
}

// AttemptTimeoutError reports a single attempt that exceeded the per-attempt
// timeout. It is retryable and counts as a breaker failure.
type AttemptTimeoutError struct {
	Key     DependencyKey
	Attempt int
	Timeout time.Duration
}

func (e *AttemptTimeoutError) Error() string {
	return fmt.Sprintf("resilience: attempt %d against %q timed out after %s", e.Attempt+1, e.Key, e.Timeout)
}

// Is reports whether target is ErrAttemptTimeout.
func (e *AttemptTimeoutError) Is(target error) bool {
	return target == ErrAttemptTimeout
}

// DependencyFailureError is a transient failure attributable to the
// dependency: network errors, 5xx-equivalents, explicit overload signals.
type DependencyFailureError struct {
	Err error

	// RateLimited marks an explicit overload signal (HTTP 429 or similar).
	RateLimited bool

	// RetryAfter is the dependency's requested wait, if it sent one.
	RetryAfter time.Duration
}

func (e *DependencyFailureError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("resilience: dependency rate limited: %v", e.Err)
	}
	return fmt.Sprintf("resilience: dependency failure: %v", e.Err)
}

func (e *DependencyFailureError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDependencyFailure.
func (e *DependencyFailureError) Is(target error) bool {
	return target == ErrDependencyFailure
}

// CallerFaultError is a failure caused by the caller's input. It is never
// retried and never counted against the dependency.
type CallerFaultError struct {
	Err error

	// Field optionally names the offending input field.
	Field string
}

func (e *CallerFaultError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("resilience: invalid %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("resilience: caller fault: %v", e.Err)
}

func (e *CallerFaultError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrCallerFault.
func (e *CallerFaultError) Is(target error) bool {
	return target == ErrCallerFault
}

// RetriesExhaustedError wraps the last retryable failure once every attempt
// has been spent. Last is a *DependencyFailureError or *AttemptTimeoutError.
type RetriesExhaustedError struct {
	Key      DependencyKey
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("resilience: %q failed after %d attempts: %v", e.Key, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error {
	return e.Last
}

// Is reports whether target is ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}
