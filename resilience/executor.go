package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Hooks observe the executor. Every field is optional. Hooks run on the
// caller's goroutine and must not block.
type Hooks struct {
	// OnStart runs before anything else and may return a derived context,
	// for example one carrying a span.
	OnStart func(ctx context.Context, key DependencyKey) context.Context

	// OnPoolWait reports how long the call waited for a pool slot and
	// whether it got one.
	OnPoolWait func(ctx context.Context, key DependencyKey, waited time.Duration, err error)

	// OnAttempt reports each completed attempt.
	OnAttempt func(ctx context.Context, rec AttemptRecord)

	// OnFinish reports the terminal result of Execute.
	OnFinish func(ctx context.Context, key DependencyKey, attempts int, elapsed time.Duration, err error)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithHooks adds instrumentation hooks. Multiple hook sets run in the order added.
func WithHooks(h Hooks) ExecutorOption {
	return func(e *Executor) {
		e.hooks = append(e.hooks, h)
	}
}

// WithClassifier replaces ClassifyError.
func WithClassifier(c Classifier) ExecutorOption {
	return func(e *Executor) {
		if c != nil {
			e.classify = c
		}
	}
}

// WithClock sets the clock used to measure attempts and waits.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithSleep replaces the backoff sleep. fn must return ctx.Err() if ctx
// ends before d elapses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) {
		if fn != nil {
			e.sleep = fn
		}
	}
}

// Executor runs operations against dependencies held in a Registry. Each
// Execute call passes the dependency's breaker, reserves exactly one pool
// slot for its whole duration, and retries retryable failures with backoff.
type Executor struct {
	registry *Registry
	hooks    []Hooks
	classify Classifier
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a new executor over reg.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry: reg,
		classify: ClassifyError,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry the executor draws dependencies from.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs op against key.
//
// The execution order is:
// 1. Circuit breaker: an open circuit fails with *CircuitOpenError
// 2. Pool: a slot is reserved or the call fails with *PoolExhaustedError
// 3. Attempts: up to Policy.MaxAttempts, each bounded by PerAttemptTimeout
//    and preceded by the rate limiter when one is configured
//
// A caller fault returns *CallerFaultError after the first attempt. Once
// attempts run out, or a failure leaves the circuit open, the last failure
// is returned wrapped in *RetriesExhaustedError. If ctx ends, ctx.Err() is
// returned and the breaker is not charged.
func (e *Executor) Execute(ctx context.Context, key DependencyKey, op func(context.Context) error) (err error) {
	start := e.now()
	ctx = e.onStart(ctx, key)

	attempts := 0
	defer func() {
		e.onFinish(ctx, key, attempts, e.now().Sub(start), err)
	}()

	dep, err := e.registry.Get(key)
	if err != nil {
		return err
	}
	breaker := dep.breaker
	policy := dep.policy

	if !breaker.Allow() {
		return &CircuitOpenError{Key: key, RetryAt: breaker.Metrics().RetryAt}
	}

	waitStart := e.now()
	tok, err := dep.pool.Acquire(ctx, policy.PoolAcquireDeadline)
	e.onPoolWait(ctx, key, e.now().Sub(waitStart), err)
	if err != nil {
		breaker.Release()
		return err
	}
	defer dep.pool.Release(tok)

	var last error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if dep.limiter != nil {
			if err := dep.limiter.Wait(ctx); err != nil {
				breaker.Release()
				return err
			}
		}

		attempts = attempt + 1
		attemptStart := e.now()
		timedOut, opErr := runAttempt(ctx, policy.PerAttemptTimeout, op)
		elapsed := e.now().Sub(attemptStart)
		dep.observeLatency(elapsed)

		outcome, err := e.outcomeOf(ctx, key, attempt, policy.PerAttemptTimeout, opErr, timedOut)
		e.onAttempt(ctx, AttemptRecord{
			Key:     key,
			Attempt: attempt,
			Start:   attemptStart,
			Elapsed: elapsed,
			Outcome: outcome,
			Err:     err,
		})

		switch outcome {
		case OutcomeSuccess:
			breaker.OnSuccess()
			return nil
		case OutcomeCallerFault, OutcomeAborted:
			breaker.Release()
			return err
		}

		breaker.OnFailure()
		last = err

		if attempt == policy.MaxAttempts-1 || breaker.State() != StateClosed {
			break
		}

		delay := dep.backoff.Delay(attempt)
		if ra := retryAfterOf(err); ra > delay {
			delay = ra
		}
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return &RetriesExhaustedError{Key: key, Attempts: attempts, Last: last}
}

// outcomeOf classifies one attempt and returns the error in its typed form.
func (e *Executor) outcomeOf(ctx context.Context, key DependencyKey, attempt int, timeout time.Duration, opErr error, timedOut bool) (Outcome, error) {
	switch {
	case timedOut:
		return OutcomeRetryable, &AttemptTimeoutError{Key: key, Attempt: attempt, Timeout: timeout}
	case opErr == nil:
		return OutcomeSuccess, nil
	case ctx.Err() != nil:
		return OutcomeAborted, ctx.Err()
	}

	switch e.classify(opErr) {
	case OutcomeCallerFault:
		var callerErr *CallerFaultError
		if !errors.As(opErr, &callerErr) {
			opErr = &CallerFaultError{Err: opErr}
		}
		return OutcomeCallerFault, opErr
	case OutcomeAborted:
		return OutcomeAborted, opErr
	default:
		return OutcomeRetryable, Retryable(opErr)
	}
}

func (e *Executor) onStart(ctx context.Context, key DependencyKey) context.Context {
	for _, h := range e.hooks {
		if h.OnStart != nil {
			ctx = h.OnStart(ctx, key)
		}
	}
	return ctx
}

func (e *Executor) onPoolWait(ctx context.Context, key DependencyKey, waited time.Duration, err error) {
	for _, h := range e.hooks {
		if h.OnPoolWait != nil {
			h.OnPoolWait(ctx, key, waited, err)
		}
	}
}

func (e *Executor) onAttempt(ctx context.Context, rec AttemptRecord) {
	for _, h := range e.hooks {
		if h.OnAttempt != nil {
			h.OnAttempt(ctx, rec)
		}
	}
}

func (e *Executor) onFinish(ctx context.Context, key DependencyKey, attempts int, elapsed time.Duration, err error) {
	for _, h := range e.hooks {
		if h.OnFinish != nil {
			h.OnFinish(ctx, key, attempts, elapsed, err)
		}
	}
}

// Call runs op through e and returns its value. Results of abandoned
// attempts are discarded; only the value of the attempt that succeeded is
// returned.
func Call[T any](ctx context.Context, e *Executor, key DependencyKey, op func(context.Context) (T, error)) (T, error) {
	var (
		mu     sync.Mutex
		result T
	)

	err := e.Execute(ctx, key, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}

		// An abandoned attempt's context is canceled before the next
		// attempt starts, so a late result can never overwrite a newer one.
		mu.Lock()
		if ctx.Err() == nil {
			result = v
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}

	mu.Lock()
	defer mu.Unlock()
	return result, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
