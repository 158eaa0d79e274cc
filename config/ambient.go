package config

import (
	"math"
	"net/url"
	"slices"

	"github.com/robfig/cron/v3"

	"github.com/jonwraymond/depguard/observe"
)

const (
	defaultServiceName         = "depguard"
	defaultTracingExporter     = "none"
	defaultSamplePct           = 1.0
	defaultMetricsExporter     = "prometheus"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultPollSchedule        = "@every 15s"
	defaultDegradedUtilization = 0.8
	defaultPaymentBaseURL      = "https://api.payment-service.internal"
	defaultIdempotencySize     = 10000
)

// scheduleParser accepts what health.NewPoller accepts.
var scheduleParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ambient replaces unusable observability, health and transport settings
// with their defaults so the values handed to observe.NewObserver,
// health.NewPoller and payment.NewClient are always accepted.
func (l *loader) ambient(cfg *Config) {
	o := &cfg.Observe
	if o.ServiceName == "" {
		l.warn("service.name: empty, using %q", defaultServiceName)
		o.ServiceName = defaultServiceName
	}
	l.oneOf("tracing.exporter", &o.Tracing.Exporter, observe.ValidTracingExporters, defaultTracingExporter)
	l.oneOf("metrics.exporter", &o.Metrics.Exporter, observe.ValidMetricsExporters, defaultMetricsExporter)
	l.oneOf("logging.level", &o.Logging.Level, observe.ValidLogLevels, defaultLogLevel)
	l.oneOf("logging.format", &o.Logging.Format, observe.ValidLogFormats, defaultLogFormat)

	if p := o.Tracing.SamplePct; math.IsNaN(p) || p < observe.MinSamplePct || p > observe.MaxSamplePct {
		l.warn("tracing.sample_pct: %v outside [%g, %g], using %g", p, observe.MinSamplePct, observe.MaxSamplePct, defaultSamplePct)
		o.Tracing.SamplePct = defaultSamplePct
	}

	if _, err := scheduleParser.Parse(cfg.Health.PollSchedule); err != nil {
		l.warn("health.poll_schedule: %q: %v, using %q", cfg.Health.PollSchedule, err, defaultPollSchedule)
		cfg.Health.PollSchedule = defaultPollSchedule
	}
	if u := cfg.Health.DegradedUtilization; math.IsNaN(u) || u <= 0 || u > 1 {
		l.warn("health.degraded_utilization: %v outside (0, 1], using %g", u, defaultDegradedUtilization)
		cfg.Health.DegradedUtilization = defaultDegradedUtilization
	}

	if u, err := url.Parse(cfg.Payment.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		l.warn("payment.base_url: %q is not an http(s) URL, using %q", cfg.Payment.BaseURL, defaultPaymentBaseURL)
		cfg.Payment.BaseURL = defaultPaymentBaseURL
	}
}

func (l *loader) oneOf(path string, dst *string, valid []string, def string) {
	if slices.Contains(valid, *dst) {
		return
	}
	l.warn("%s: unknown value %q, using %q", path, *dst, def)
	*dst = def
}
