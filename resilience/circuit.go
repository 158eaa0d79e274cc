package resilience

import (
	"fmt"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name written by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "closed":
		*s = StateClosed
	case "open":
		*s = StateOpen
	case "half-open":
		*s = StateHalfOpen
	default:
		return fmt.Errorf("resilience: unknown circuit state %q", text)
	}
	return nil
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the circuit stays open before a probe is admitted.
	// Default: 60 seconds
	RecoveryTimeout time.Duration

	// HalfOpenMaxRequests is the number of concurrent probes allowed while half-open.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called after every transition, outside the breaker's lock.
	OnStateChange func(from, to State)

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// CircuitBreaker is a per-dependency Closed/Open/HalfOpen state machine.
// Every method is linearizable; none of them blocks on anything but the
// breaker's own mutex.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailure         time.Time
	probesInFlight      int
}

// NewCircuitBreaker creates a new circuit breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	// Apply defaults
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = time.Minute
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow reports whether a call may proceed. An open circuit whose recovery
// timeout has strictly elapsed moves to half-open and admits the caller as
// its probe. While half-open, callers beyond HalfOpenMaxRequests are rejected.
//
// A caller admitted while half-open must report the probe's fate with
// OnSuccess, OnFailure or Release.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()

	var (
		allowed bool
		from    = cb.state
	)

	switch cb.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if cb.config.Now().Sub(cb.lastFailure) > cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.probesInFlight = 1
			allowed = true
		}

	case StateHalfOpen:
		if cb.probesInFlight < cb.config.HalfOpenMaxRequests {
			cb.probesInFlight++
			allowed = true
		}
	}

	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return allowed
}

// OnSuccess records a successful call. The failure count is always reset
// and a half-open circuit closes. A success landing while the circuit is
// open does not close it; only the recovery timeout does.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	from := cb.state

	cb.consecutiveFailures = 0
	if cb.state == StateHalfOpen {
		cb.state = StateClosed
		cb.probesInFlight = 0
	}

	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// OnFailure records a dependency failure. A closed circuit opens once the
// threshold is reached; a half-open circuit reopens immediately.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	from := cb.state

	cb.consecutiveFailures++
	cb.lastFailure = cb.config.Now()

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		// Failed during probe, go back to open
		cb.state = StateOpen
		cb.probesInFlight = 0
	}

	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// Release returns a half-open probe permit without recording an outcome,
// for callers that were admitted but never produced a verdict on the
// dependency. It is a no-op in any other state.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.probesInFlight > 0 {
		cb.probesInFlight--
	}
}

// Reset forces the circuit closed and clears its failure history.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state

	cb.state = StateClosed
	cb.consecutiveFailures = 0
	cb.lastFailure = time.Time{}
	cb.probesInFlight = 0

	cb.mu.Unlock()

	cb.notify(from, StateClosed)
}

// State returns the current circuit state. It never triggers a transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns a consistent read of the breaker's fields. It never
// triggers a transition, so polling it cannot change breaker behavior.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	m := CircuitBreakerMetrics{
		State:               cb.state,
		ConsecutiveFailures: cb.consecutiveFailures,
		LastFailure:         cb.lastFailure,
		ProbesInFlight:      cb.probesInFlight,
	}
	if cb.state == StateOpen {
		m.RetryAt = cb.lastFailure.Add(cb.config.RecoveryTimeout)
	}
	return m
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	State               State
	ConsecutiveFailures int
	LastFailure         time.Time // zero until the first failure
	ProbesInFlight      int
	RetryAt             time.Time // set only while open
}
