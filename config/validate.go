package config

import (
	"math"
	"sort"
	"time"

	"github.com/jonwraymond/depguard/resilience"
)

const (
	minReasonableTimeout = 10 * time.Second
	maxReasonableTimeout = 60 * time.Second
	maxReasonablePool    = 100
)

// validate records warnings for values that load fine but are probably
// wrong. None of them change the loaded configuration.
func (l *loader) validate(cfg *Config) {
	l.checkPolicy(DefaultSection, cfg.Default)

	keys := make([]string, 0, len(cfg.Dependencies))
	for k := range cfg.Dependencies {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		l.checkPolicy(k, cfg.Dependencies[resilience.DependencyKey(k)])
	}

	if cfg.Payment.APIKey == "" {
		l.warn("payment.api_key: not set (PAYMENT_API_KEY), provider calls will be rejected")
	}
	if cfg.Ledger.DSN == "" {
		l.warn("ledger.dsn: not set (MYSQL_DSN), ledger disabled")
	}
	if cfg.Admin.JWTSecret == "" {
		l.warn("admin.jwt_secret: not set (JWT_SECRET), admin API disabled")
	}
	if cfg.Ledger.MaxOpenConns > 0 && cfg.Ledger.MaxIdleConns > cfg.Ledger.MaxOpenConns {
		l.warn("ledger.max_idle_conns: %d exceeds max_open_conns %d", cfg.Ledger.MaxIdleConns, cfg.Ledger.MaxOpenConns)
	}
}

func (l *loader) checkPolicy(section string, p resilience.Policy) {
	prefix := "dependencies." + section + "."
	if p.PerAttemptTimeout < minReasonableTimeout {
		l.warn("%stimeout_ms: %dms may be too low", prefix, p.PerAttemptTimeout.Milliseconds())
	}
	if p.PerAttemptTimeout > maxReasonableTimeout {
		l.warn("%stimeout_ms: %dms may be too high", prefix, p.PerAttemptTimeout.Milliseconds())
	}
	if p.PoolCapacity > maxReasonablePool {
		l.warn("%spool_capacity: %d may be too high", prefix, p.PoolCapacity)
	}
	budget := time.Duration(math.MaxInt64)
	if p.MaxAttempts > 0 && p.PerAttemptTimeout <= budget/time.Duration(p.MaxAttempts) {
		budget = p.PerAttemptTimeout * time.Duration(p.MaxAttempts)
	}
	if p.PoolAcquireDeadline > budget {
		l.warn("%spool_acquire_timeout_ms: %dms exceeds the whole retry budget", prefix, p.PoolAcquireDeadline.Milliseconds())
	}
}
