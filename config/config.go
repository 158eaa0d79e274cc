// Package config loads depguard's process configuration from a YAML or JSON
// file, DEPGUARD_-prefixed environment variables and an optional .env file.
//
// Bad configuration never fails a load. A missing or malformed resilience
// option falls back to the value inherited from dependencies.default (and
// from there to resilience.DefaultPolicy). An unreadable config file is
// skipped, an unresolvable secret is left unset, and an unknown ambient value
// (log level, exporter, poll schedule) reverts to its default. Every fallback
// is reported in Config.Warnings.
package config

import (
	"time"

	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/resilience"
)

// Config is the fully resolved process configuration.
type Config struct {
	Server  ServerConfig
	Observe observe.Config

	// Default is the policy for dependencies without their own section.
	Default resilience.Policy

	// Dependencies holds one policy per configured dependencies.<key> section.
	Dependencies map[resilience.DependencyKey]resilience.Policy

	Payment PaymentConfig
	Ledger  LedgerConfig
	Redis   RedisConfig
	Admin   AdminConfig
	Health  HealthConfig

	// Warnings lists every value that was ignored or looked suspicious.
	Warnings []string
}

// ServerConfig configures the HTTP listeners.
type ServerConfig struct {
	// Addr serves the public payment API, health endpoints and /metrics.
	Addr string

	// AdminAddr serves the operator API.
	AdminAddr string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// PaymentConfig configures the payment provider client.
type PaymentConfig struct {
	BaseURL string
	APIKey  string

	// IdempotencySize bounds the completed-charge cache.
	IdempotencySize int

	// IdempotencyTTL is how long a completed charge is replayed.
	IdempotencyTTL time.Duration
}

// LedgerConfig configures the MySQL ledger.
type LedgerConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	AutoMigrate  bool
}

// RedisConfig configures the Redis client used by the admin audit store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AdminConfig configures the operator API.
type AdminConfig struct {
	JWTSecret string
	Issuer    string

	// AuditMaxEntries bounds the audit trail.
	AuditMaxEntries int
}

// HealthConfig configures the health poller and reporter.
type HealthConfig struct {
	PollSchedule        string
	ProbeTimeout        time.Duration
	DegradedUtilization float64
}

// RegistryConfig converts the loaded policies into a resilience.RegistryConfig.
func (c *Config) RegistryConfig() resilience.RegistryConfig {
	def := c.Default
	policies := make(map[resilience.DependencyKey]resilience.Policy, len(c.Dependencies))
	for k, p := range c.Dependencies {
		policies[k] = p
	}
	return resilience.RegistryConfig{Default: &def, Policies: policies}
}
