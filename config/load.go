package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/secret"
)

// EnvPrefix prefixes every environment override, e.g.
// DEPGUARD_DEPENDENCIES_PAYMENT_SERVICE_TIMEOUT_MS.
const EnvPrefix = "DEPGUARD"

// Option configures Load.
type Option func(*loadOptions)

type loadOptions struct {
	dotenv   []string
	resolver *secret.Resolver
	logger   observe.Logger
}

// WithDotenv sets the .env files loaded before the environment is read.
// Missing files are skipped. Default: ".env"
func WithDotenv(paths ...string) Option {
	return func(o *loadOptions) { o.dotenv = paths }
}

// WithResolver sets the secret resolver. Default: secret.NewDefaultResolver
func WithResolver(r *secret.Resolver) Option {
	return func(o *loadOptions) { o.resolver = r }
}

// WithLogger logs every warning as it is found.
func WithLogger(l observe.Logger) Option {
	return func(o *loadOptions) { o.logger = l }
}

// Load reads the configuration. An empty path reads defaults and the
// environment only. The only error is a failure to build the default secret
// resolver; everything else degrades to defaults with a warning.
func Load(path string, opts ...Option) (*Config, error) {
	o := loadOptions{dotenv: []string{".env"}, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		r, err := secret.NewDefaultResolver()
		if err != nil {
			return nil, fmt.Errorf("config: secret resolver: %w", err)
		}
		o.resolver = r
	}

	v := viper.New()
	l := &loader{v: v, logger: o.logger}

	for _, f := range o.dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.warn("%s: unreadable env file, skipped: %v", f, err)
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Unprefixed names used by existing deployments.
	_ = v.BindEnv("payment.base_url", "PAYMENT_SERVICE_URL", EnvPrefix+"_PAYMENT_BASE_URL")
	_ = v.BindEnv("payment.api_key", "PAYMENT_API_KEY", EnvPrefix+"_PAYMENT_API_KEY")
	_ = v.BindEnv("ledger.dsn", "MYSQL_DSN", EnvPrefix+"_LEDGER_DSN")
	_ = v.BindEnv("admin.jwt_secret", "JWT_SECRET", EnvPrefix+"_ADMIN_JWT_SECRET")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			l.warn("%s: unreadable config file, using defaults and environment: %v", path, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Addr:            v.GetString("server.addr"),
			AdminAddr:       v.GetString("server.admin_addr"),
			ReadTimeout:     l.duration("server.read_timeout", 10*time.Second),
			WriteTimeout:    l.duration("server.write_timeout", 60*time.Second),
			ShutdownTimeout: l.duration("server.shutdown_timeout", 30*time.Second),
		},
		Observe: observe.Config{
			ServiceName: v.GetString("service.name"),
			Version:     v.GetString("service.version"),
			Tracing: observe.TracingConfig{
				Enabled:   v.GetBool("tracing.enabled"),
				Exporter:  v.GetString("tracing.exporter"),
				SamplePct: v.GetFloat64("tracing.sample_pct"),
			},
			Metrics: observe.MetricsConfig{
				Enabled:  v.GetBool("metrics.enabled"),
				Exporter: v.GetString("metrics.exporter"),
			},
			Logging: observe.LoggingConfig{
				Enabled:    v.GetBool("logging.enabled"),
				Level:      v.GetString("logging.level"),
				Format:     v.GetString("logging.format"),
				File:       v.GetString("logging.file"),
				MaxSizeMB:  v.GetInt("logging.max_size_mb"),
				MaxBackups: v.GetInt("logging.max_backups"),
				MaxAgeDays: v.GetInt("logging.max_age_days"),
			},
		},
		Payment: PaymentConfig{
			BaseURL:         v.GetString("payment.base_url"),
			APIKey:          v.GetString("payment.api_key"),
			IdempotencySize: l.count("payment.idempotency_size", defaultIdempotencySize, 1),
			IdempotencyTTL:  l.duration("payment.idempotency_ttl", 24*time.Hour),
		},
		Ledger: LedgerConfig{
			DSN:          v.GetString("ledger.dsn"),
			MaxOpenConns: v.GetInt("ledger.max_open_conns"),
			MaxIdleConns: v.GetInt("ledger.max_idle_conns"),
			AutoMigrate:  v.GetBool("ledger.auto_migrate"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Admin: AdminConfig{
			JWTSecret:       v.GetString("admin.jwt_secret"),
			Issuer:          v.GetString("admin.issuer"),
			AuditMaxEntries: v.GetInt("admin.audit_max_entries"),
		},
		Health: HealthConfig{
			PollSchedule:        v.GetString("health.poll_schedule"),
			ProbeTimeout:        l.duration("health.probe_timeout", 5*time.Second),
			DegradedUtilization: v.GetFloat64("health.degraded_utilization"),
		},
	}

	l.resolveSecrets(context.Background(), o.resolver, cfg)
	l.ambient(cfg)

	cfg.Default, cfg.Dependencies = l.policies()
	l.validate(cfg)
	cfg.Warnings = l.warnings
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.name", defaultServiceName)
	v.SetDefault("service.version", "dev")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admin_addr", ":9090")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", defaultTracingExporter)
	v.SetDefault("tracing.sample_pct", defaultSamplePct)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.exporter", defaultMetricsExporter)
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 30)

	v.SetDefault("payment.base_url", defaultPaymentBaseURL)
	v.SetDefault("payment.idempotency_size", defaultIdempotencySize)

	v.SetDefault("ledger.max_open_conns", 50)
	v.SetDefault("ledger.max_idle_conns", 10)
	v.SetDefault("ledger.auto_migrate", false)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("admin.issuer", "depguard")
	v.SetDefault("admin.audit_max_entries", 1000)

	v.SetDefault("health.poll_schedule", defaultPollSchedule)
	v.SetDefault("health.degraded_utilization", defaultDegradedUtilization)
}

// resolveSecrets expands and resolves secret references in place. A field
// that cannot be resolved reverts to its default, which is empty for
// credentials.
func (l *loader) resolveSecrets(ctx context.Context, r *secret.Resolver, cfg *Config) {
	fields := []struct {
		name string
		dst  *string
		def  string
	}{
		{"payment.api_key", &cfg.Payment.APIKey, ""},
		{"payment.base_url", &cfg.Payment.BaseURL, defaultPaymentBaseURL},
		{"ledger.dsn", &cfg.Ledger.DSN, ""},
		{"redis.password", &cfg.Redis.Password, ""},
		{"admin.jwt_secret", &cfg.Admin.JWTSecret, ""},
	}
	for _, f := range fields {
		if *f.dst == "" {
			continue
		}
		resolved, err := r.ResolveValue(ctx, *f.dst)
		if err != nil {
			l.warn("%s: unresolvable secret reference, using %q: %v", f.name, f.def, err)
			*f.dst = f.def
			continue
		}
		*f.dst = resolved
	}
}
