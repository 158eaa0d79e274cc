package config

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/resilience"
)

// DefaultSection is the dependencies.<key> section inherited by every other key.
const DefaultSection = "default"

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

type loader struct {
	v        *viper.Viper
	logger   observe.Logger
	warnings []string
}

func (l *loader) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.warnings = append(l.warnings, msg)
	l.logger.Warn(context.Background(), "config fallback", observe.Field{Key: "detail", Value: msg})
}

// duration reads a Go duration string ("250ms", "5s") or a number of
// milliseconds.
func (l *loader) duration(path string, def time.Duration) time.Duration {
	if !l.v.IsSet(path) {
		return def
	}
	raw := l.v.Get(path)
	if n, err := cast.ToInt64E(raw); err == nil {
		if n > 0 && n <= maxMillis {
			return time.Duration(n) * time.Millisecond
		}
	} else if d, err := time.ParseDuration(cast.ToString(raw)); err == nil && d > 0 {
		return d
	}
	l.warn("%s: invalid duration %v, using %s", path, raw, def)
	return def
}

// policies builds the default policy and one policy per configured section.
func (l *loader) policies() (resilience.Policy, map[resilience.DependencyKey]resilience.Policy) {
	def := l.policy(DefaultSection, resilience.DefaultPolicy())

	sections := l.v.GetStringMap("dependencies")
	keys := make([]string, 0, len(sections))
	for k := range sections {
		if k != DefaultSection {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make(map[resilience.DependencyKey]resilience.Policy, len(keys))
	for _, k := range keys {
		out[resilience.DependencyKey(k)] = l.policy(k, def)
	}
	return def, out
}

// policy reads dependencies.<section>, taking every missing or invalid
// option from base.
func (l *loader) policy(section string, base resilience.Policy) resilience.Policy {
	prefix := "dependencies." + section + "."
	p := base

	p.PerAttemptTimeout = l.millis(prefix+"timeout_ms", base.PerAttemptTimeout, false)
	p.MaxAttempts = l.count(prefix+"max_retries", l.count(prefix+"retry_attempts", base.MaxAttempts, 1), 1)
	p.BackoffBase = l.millis(prefix+"retry_delay_ms", base.BackoffBase, true)
	p.BackoffMultiplier = l.float(prefix+"retry_backoff_multiplier", base.BackoffMultiplier, 1)
	p.JitterMax = l.millis(prefix+"retry_jitter_ms", base.JitterMax, true)
	p.FailureThreshold = l.count(prefix+"failure_threshold", base.FailureThreshold, 1)
	p.RecoveryTimeout = l.millis(prefix+"recovery_timeout_ms", base.RecoveryTimeout, false)
	p.PoolCapacity = l.count(prefix+"pool_capacity", base.PoolCapacity, 1)
	p.PoolAcquireDeadline = l.millis(prefix+"pool_acquire_timeout_ms", base.PoolAcquireDeadline, true)
	p.RateLimit = l.float(prefix+"rate_limit_per_sec", base.RateLimit, 0)
	p.RateBurst = l.count(prefix+"rate_limit_burst", base.RateBurst, 0)

	if p.RateLimit > 0 && p.RateBurst < 1 {
		l.warn("%srate_limit_burst: must be >= 1 when rate_limit_per_sec is set, using 1", prefix)
		p.RateBurst = 1
	}
	return p
}

func (l *loader) millis(path string, def time.Duration, allowZero bool) time.Duration {
	if !l.v.IsSet(path) {
		return def
	}
	raw := l.v.Get(path)
	n, err := cast.ToInt64E(raw)
	if err != nil || n < 0 || n > maxMillis || (n == 0 && !allowZero) {
		l.warn("%s: invalid value %v, using %dms", path, raw, def.Milliseconds())
		return def
	}
	return time.Duration(n) * time.Millisecond
}

func (l *loader) count(path string, def, floor int) int {
	if !l.v.IsSet(path) {
		return def
	}
	raw := l.v.Get(path)
	n, err := cast.ToIntE(raw)
	if err != nil || n < floor {
		l.warn("%s: invalid value %v, using %d", path, raw, def)
		return def
	}
	return n
}

func (l *loader) float(path string, def, floor float64) float64 {
	if !l.v.IsSet(path) {
		return def
	}
	raw := l.v.Get(path)
	f, err := cast.ToFloat64E(raw)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < floor {
		l.warn("%s: invalid value %v, using %g", path, raw, def)
		return def
	}
	return f
}
