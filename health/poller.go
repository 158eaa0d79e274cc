package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jonwraymond/depguard/observe"
)

// PollerConfig configures a Poller.
type PollerConfig struct {
	// Schedule is a cron expression with a leading seconds field, or a
	// descriptor such as "@every 15s".
	// Default: "@every 15s"
	Schedule string

	// ProbeTimeout bounds one run of the registered probes.
	// Default: 5 seconds
	ProbeTimeout time.Duration

	// OnSnapshot, when set, receives every snapshot set taken.
	OnSnapshot func([]HealthSnapshot)
}

// Poller takes SnapshotAll and runs the registered probes on a cron
// schedule, logging every dependency that is not healthy.
type Poller struct {
	reporter *Reporter
	logger   observe.Logger
	config   PollerConfig
	cron     *cron.Cron
}

// NewPoller creates a poller. It does not run until Start is called.
func NewPoller(reporter *Reporter, logger observe.Logger, config PollerConfig) (*Poller, error) {
	if config.Schedule == "" {
		config.Schedule = "@every 15s"
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = observe.NopLogger()
	}

	p := &Poller{
		reporter: reporter,
		logger:   logger.With(observe.Field{Key: "component", Value: "health-poller"}),
		config:   config,
		cron:     cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := p.cron.AddFunc(config.Schedule, p.Poll); err != nil {
		return nil, fmt.Errorf("health: invalid poll schedule %q: %w", config.Schedule, err)
	}
	return p, nil
}

// Start begins polling in the background.
func (p *Poller) Start() {
	p.cron.Start()
	p.logger.Info(context.Background(), "health poller started", observe.Field{Key: "schedule", Value: p.config.Schedule})
}

// Stop stops scheduling new polls. The returned context is done once a
// running poll has finished.
func (p *Poller) Stop() context.Context {
	return p.cron.Stop()
}

// Poll takes one snapshot set and runs the probes once.
func (p *Poller) Poll() {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.ProbeTimeout)
	defer cancel()

	snaps := p.reporter.SnapshotAll()
	for _, s := range snaps {
		status := p.reporter.Status(s)
		if status == StatusHealthy {
			continue
		}
		fields := []observe.Field{
			{Key: "dependency", Value: string(s.Dependency)},
			{Key: "status", Value: status.String()},
			{Key: "circuit_state", Value: s.CircuitState.String()},
			{Key: "pool_utilization", Value: s.PoolUtilization},
			{Key: "failure_count", Value: s.FailureCount},
		}
		if status == StatusUnhealthy {
			p.logger.Error(ctx, "dependency unhealthy", fields...)
		} else {
			p.logger.Warn(ctx, "dependency degraded", fields...)
		}
	}

	results := p.reporter.Probe(ctx)
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		res := results[name]
		if res.Status == StatusHealthy {
			continue
		}
		p.logger.Warn(ctx, "health probe failed",
			observe.Field{Key: "probe", Value: name},
			observe.Field{Key: "status", Value: res.Status.String()},
			observe.Field{Key: "error", Value: res.Error},
		)
	}

	if p.config.OnSnapshot != nil {
		p.config.OnSnapshot(snaps)
	}
}
