// Package health reports the health of guarded dependencies.
//
// A Reporter derives a HealthSnapshot per dependency from the circuit
// breaker and pool held in a resilience.Registry. Snapshots are read-only:
// taking one never transitions a breaker or touches a pool, so monitoring
// can poll as often as it likes.
//
//	reporter := health.NewReporter(registry)
//	for _, s := range reporter.SnapshotAll() {
//	    fmt.Println(s.Dependency, s.CircuitState, reporter.Status(s))
//	}
//
// An open circuit is unhealthy. A half-open circuit, queued pool waiters, or
// pool utilization at or above ReporterConfig.DegradedUtilization is
// degraded. Latency statistics cover the most recent attempts.
//
// # Aggregating Health Checks
//
// Aggregator runs any number of Checkers concurrently under one timeout.
// Reporter.Checker adapts a dependency's snapshot to a Checker, and
// NewPingChecker turns a Pinger into an active probe:
//
//	agg := health.NewAggregator()
//	agg.Register("payment-service", reporter.Checker("payment-service"))
//	agg.Register("payment-ping", health.NewPingChecker("payment-ping", client))
//
// # HTTP Endpoints
//
//	mux := http.NewServeMux()
//	health.RegisterHandlers(mux, agg, reporter)
//
// registers /healthz, /readyz, /health, /health/dependencies and
// /health/dependencies/{key}.
//
// # Polling
//
// Poller takes snapshots and runs the reporter's probes on a cron schedule,
// logging every dependency that is not healthy.
package health
