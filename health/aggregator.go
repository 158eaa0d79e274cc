package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// AggregatorConfig configures the health aggregator.
type AggregatorConfig struct {
	// Timeout bounds one CheckAll or Check run.
	// Default: 10 seconds
	Timeout time.Duration

	// MaxConcurrent bounds how many checks run at once. Zero means no limit.
	MaxConcurrent int
}

// RegisterOption configures one registered checker.
type RegisterOption func(*registration)

// Optional marks a checker whose failure degrades the service instead of
// making it unhealthy, for example the audit store behind the admin API.
func Optional() RegisterOption {
	return func(r *registration) { r.optional = true }
}

type registration struct {
	checker  Checker
	optional bool
}

// Aggregator runs a set of named checkers, typically one per dependency,
// and folds their results into a readiness status.
type Aggregator struct {
	config AggregatorConfig

	mu      sync.RWMutex
	entries map[string]registration
	order   []string
}

// NewAggregator creates a new health aggregator.
func NewAggregator(config ...AggregatorConfig) *Aggregator {
	cfg := AggregatorConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Aggregator{
		config:  cfg,
		entries: make(map[string]registration),
	}
}

// Register adds checker under name, replacing any checker already there.
func (a *Aggregator) Register(name string, checker Checker, opts ...RegisterOption) {
	reg := registration{checker: checker}
	for _, opt := range opts {
		opt(&reg)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.entries[name]; !exists {
		a.order = append(a.order, name)
	}
	a.entries[name] = reg
}

// Unregister removes the checker registered under name.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.entries[name]; !exists {
		return
	}
	delete(a.entries, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

// CheckerNames returns the registered names in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs the checker registered under name.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	reg, ok := a.entries[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()
	return runCheck(ctx, reg.checker), nil
}

// CheckAll runs every checker concurrently and returns the results keyed by
// name. A check still running at the timeout is reported unhealthy with
// ErrCheckTimeout.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	entries := make(map[string]Checker, len(a.entries))
	for name, reg := range a.entries {
		entries[name] = reg.checker
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(entries))
	if len(entries) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	if a.config.MaxConcurrent > 0 {
		g.SetLimit(a.config.MaxConcurrent)
	}
	for name, checker := range entries {
		g.Go(func() error {
			result := runCheck(ctx, checker)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Status folds results into one status. An unhealthy optional checker
// counts as degraded; results without a registration count as required.
func (a *Aggregator) Status(results map[string]Result) Status {
	a.mu.RLock()
	defer a.mu.RUnlock()

	overall := StatusHealthy
	for name, result := range results {
		s := result.Status
		if reg, ok := a.entries[name]; ok && reg.optional && s == StatusUnhealthy {
			s = StatusDegraded
		}
		overall = overall.Worse(s)
	}
	return overall
}

// OverallStatus returns the worst status among results, or healthy when
// there are none. It treats every result as required.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, result := range results {
		overall = overall.Worse(result.Status)
	}
	return overall
}

func runCheck(ctx context.Context, checker Checker) Result {
	start := time.Now()
	done := make(chan Result, 1)

	go func() {
		result := checker.Check(ctx)
		result.Duration = time.Since(start)
		if result.Timestamp.IsZero() {
			result.Timestamp = start
		}
		done <- result
	}()

	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		return Result{
			Status:    StatusUnhealthy,
			Message:   "check timed out",
			Error:     ErrCheckTimeout,
			Duration:  time.Since(start),
			Timestamp: start,
		}
	}
}
