// Command depguard serves the payment API behind the dependency guard:
// every call to the payment provider, the ledger and the audit store runs
// through a resilience.Executor with per-dependency policies.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/depguard/admin"
	"github.com/jonwraymond/depguard/api"
	"github.com/jonwraymond/depguard/auth"
	"github.com/jonwraymond/depguard/cache"
	"github.com/jonwraymond/depguard/config"
	"github.com/jonwraymond/depguard/health"
	"github.com/jonwraymond/depguard/ledger"
	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/payment"
	"github.com/jonwraymond/depguard/resilience"
)

var (
	flagConfig = flag.String("config", "", "config path, eg: -config depguard.yaml")
	flagIssue  = flag.String("issue-token", "", "print an admin token and exit, eg: -issue-token alice:operator")
	flagTTL    = flag.Duration("token-ttl", 12*time.Hour, "lifetime of a token printed by -issue-token")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*flagConfig, config.WithDotenv())
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if *flagIssue != "" {
		if err := issueToken(cfg, *flagIssue, *flagTTL); err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("depguard: %v", err)
	}
}

func issueToken(cfg *config.Config, spec string, ttl time.Duration) error {
	subject, roles, _ := strings.Cut(spec, ":")
	authn, err := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: []byte(cfg.Admin.JWTSecret), Issuer: cfg.Admin.Issuer})
	if err != nil {
		return err
	}
	var roleList []string
	if roles != "" {
		roleList = strings.Split(roles, ",")
	}
	token, err := authn.Issue(subject, roleList, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func run(ctx context.Context, cfg *config.Config) error {
	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	logger := obs.Logger()
	for _, w := range cfg.Warnings {
		logger.Warn(ctx, "config fallback", observe.Field{Key: "warning", Value: w})
	}

	instr, err := observe.InstrumentationFromObserver(obs)
	if err != nil {
		return fmt.Errorf("init instrumentation: %w", err)
	}
	regCfg := cfg.RegistryConfig()
	regCfg.OnStateChange = instr.OnStateChange
	reg, err := resilience.NewRegistry(regCfg)
	if err != nil {
		return fmt.Errorf("build registry: %w", err)
	}
	exec := resilience.NewExecutor(reg, resilience.WithHooks(instr.Hooks()))
	gauges, err := observe.RegisterGauges(obs.Meter(), reg)
	if err != nil {
		return fmt.Errorf("register gauges: %w", err)
	}

	reporter := health.NewReporter(reg, health.ReporterConfig{DegradedUtilization: cfg.Health.DegradedUtilization})

	// Payment provider.
	client, err := payment.NewClient(payment.ClientConfig{
		BaseURL: cfg.Payment.BaseURL,
		APIKey:  cfg.Payment.APIKey,
		Timeout: reg.PolicyFor(payment.DependencyKey).PerAttemptTimeout,
	})
	if err != nil {
		return err
	}
	defer client.Close()
	reporter.RegisterProbe(health.NewPingChecker(string(payment.DependencyKey), client))

	// Ledger. Without a DSN charges are executed but not recorded.
	var store payment.Ledger
	if cfg.Ledger.DSN != "" {
		db, err := ledger.Open(ledger.Options{
			DSN:          cfg.Ledger.DSN,
			MaxOpenConns: cfg.Ledger.MaxOpenConns,
			MaxIdleConns: cfg.Ledger.MaxIdleConns,
		}, logger)
		if err != nil {
			return err
		}
		ls := ledger.NewStore(db, exec)
		defer func() { _ = ls.Close() }()
		if cfg.Ledger.AutoMigrate {
			if err := ls.Migrate(ctx); err != nil {
				return err
			}
		}
		reporter.RegisterProbe(health.NewPingChecker(string(ledger.DependencyKey), ls))
		store = ls
	} else {
		logger.Warn(ctx, "ledger disabled", observe.Field{Key: "reason", Value: "ledger.dsn not set"})
	}

	idem, err := cache.NewIdempotency(
		cache.NewMemoryCache(cfg.Payment.IdempotencySize),
		nil,
		cache.Policy{DefaultTTL: cfg.Payment.IdempotencyTTL, MaxTTL: cfg.Payment.IdempotencyTTL},
		"charge",
	)
	if err != nil {
		return err
	}
	svc := payment.NewService(client, exec, store, idem, logger)

	// Public listener: payments, health, metrics.
	mux := http.NewServeMux()
	api.NewHandler(svc, logger).Register(mux)
	agg := health.NewAggregator()
	for _, key := range []resilience.DependencyKey{payment.DependencyKey, ledger.DependencyKey} {
		c := reporter.Checker(key)
		agg.Register(c.Name(), c)
	}
	audit := reporter.Checker(admin.AuditDependencyKey)
	agg.Register(audit.Name(), audit, health.Optional())
	health.RegisterHandlers(mux, agg, reporter)
	mux.Handle("GET /metrics", obs.MetricsHandler())

	servers := []*http.Server{newServer(cfg.Server, cfg.Server.Addr, mux)}

	// Admin listener.
	adminHandler, rdb, err := newAdmin(ctx, cfg, reg, reporter, exec, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
		reporter.RegisterProbe(health.NewCheckerFunc("redis", func(ctx context.Context) health.Result {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return health.Unhealthy("redis ping failed", err)
			}
			return health.Healthy("ok")
		}))
	}
	if adminHandler != nil {
		servers = append(servers, newServer(cfg.Server, cfg.Server.AdminAddr, adminHandler))
	}

	poller, err := health.NewPoller(reporter, logger, health.PollerConfig{
		Schedule:     cfg.Health.PollSchedule,
		ProbeTimeout: cfg.Health.ProbeTimeout,
	})
	if err != nil {
		return err
	}
	poller.Start()

	logger.Info(ctx, "depguard starting",
		observe.Field{Key: "addr", Value: cfg.Server.Addr},
		observe.Field{Key: "admin_addr", Value: cfg.Server.AdminAddr},
		observe.Field{Key: "dependencies", Value: len(cfg.Dependencies)},
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "depguard shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		<-poller.Stop().Done()
		errs = append(errs, reg.Close(shutdownCtx))
		errs = append(errs, gauges.Unregister())
		errs = append(errs, obs.Shutdown(shutdownCtx))
		return errors.Join(errs...)
	})
	return g.Wait()
}

// newAdmin builds the operator API. It is disabled when no JWT secret is
// configured; the audit trail falls back to memory without a Redis address.
func newAdmin(ctx context.Context, cfg *config.Config, reg *resilience.Registry, reporter *health.Reporter,
	exec *resilience.Executor, logger observe.Logger) (http.Handler, *redis.Client, error) {
	if cfg.Admin.JWTSecret == "" {
		logger.Warn(ctx, "admin api disabled", observe.Field{Key: "reason", Value: "admin.jwt_secret not set"})
		return nil, nil, nil
	}

	var (
		audit admin.AuditStore
		rdb   *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		audit = admin.NewRedisAuditStore(rdb, exec, admin.WithAuditMaxEntries(cfg.Admin.AuditMaxEntries))
	} else {
		audit = admin.NewMemoryAuditStore(cfg.Admin.AuditMaxEntries)
	}

	authn, err := auth.NewJWTAuthenticator(auth.JWTConfig{Secret: []byte(cfg.Admin.JWTSecret), Issuer: cfg.Admin.Issuer})
	if err != nil {
		return nil, rdb, err
	}
	guard := auth.NewMiddleware(authn, auth.NewRBACAuthorizer(auth.DefaultRBACConfig()), logger)

	h, err := admin.NewHandler(admin.HandlerConfig{
		Registry: reg,
		Reporter: reporter,
		Audit:    audit,
		Guard:    guard,
		Logger:   logger,
	})
	if err != nil {
		return nil, rdb, err
	}
	return h, rdb, nil
}

func newServer(cfg config.ServerConfig, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}
