package ledger

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jonwraymond/depguard/observe"
	"github.com/jonwraymond/depguard/resilience"
)

// DependencyKey is the executor key every ledger query runs under.
const DependencyKey resilience.DependencyKey = "database"

// Options configures the MySQL connection.
type Options struct {
	// DSN is the go-sql-driver/mysql data source name. Required.
	DSN string

	// MaxOpenConns bounds open connections.
	// Default: 50
	MaxOpenConns int

	// MaxIdleConns bounds idle connections.
	// Default: 10
	MaxIdleConns int

	// ConnMaxLifetime recycles connections after this age.
	// Default: 1 hour
	ConnMaxLifetime time.Duration

	// SlowThreshold is the query time above which GORM logs a warning.
	// Default: 200ms
	SlowThreshold time.Duration
}

// Open creates a GORM handle for opts.DSN. It does not connect: the first
// query, or Store.Ping, does. A database that is down at startup therefore
// shows up as an unhealthy dependency rather than a failed boot.
func Open(opts Options, logger observe.Logger) (*gorm.DB, error) {
	if opts.DSN == "" {
		return nil, ErrMissingDSN
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 50
	}
	if opts.MaxIdleConns <= 0 {
		opts.MaxIdleConns = 10
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = time.Hour
	}
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = 200 * time.Millisecond
	}
	if logger == nil {
		logger = observe.NopLogger()
	}

	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       opts.DSN,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger: gormlogger.New(&gormLogAdapter{logger: logger}, gormlogger.Config{
			SlowThreshold:             opts.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: open mysql: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("ledger: get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	return db, nil
}

// gormLogAdapter routes GORM's slow-query and error lines to observe.Logger.
type gormLogAdapter struct {
	logger observe.Logger
}

// Printf implements gorm/logger.Writer.
func (g *gormLogAdapter) Printf(format string, v ...any) {
	g.logger.Warn(context.Background(), "gorm",
		observe.Field{Key: "component", Value: "ledger"},
		observe.Field{Key: "detail", Value: fmt.Sprintf(format, v...)},
	)
}

// Store reads and writes payments.
type Store struct {
	db   *gorm.DB
	exec *resilience.Executor
}

// NewStore creates a store. Every query runs through exec.
func NewStore(db *gorm.DB, exec *resilience.Executor) *Store {
	return &Store{db: db, exec: exec}
}

// Migrate creates or updates the payments table.
func (s *Store) Migrate(ctx context.Context) error {
	return s.exec.Execute(ctx, DependencyKey, func(ctx context.Context) error {
		return Classify(s.db.WithContext(ctx).AutoMigrate(&Payment{}))
	})
}

// Record inserts p. Recording the same payment id twice is a no-op, so a
// charge retried after an ambiguous failure does not fail on its own
// earlier insert.
func (s *Store) Record(ctx context.Context, p *Payment) error {
	if p == nil {
		return resilience.CallerFault(ErrNilPayment, "")
	}
	if p.ID == "" {
		return resilience.CallerFault(ErrMissingPayment, "transaction_id")
	}
	return s.exec.Execute(ctx, DependencyKey, func(ctx context.Context) error {
		return Classify(s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(p).Error)
	})
}

// Get returns the payment with the given id. A missing payment is a
// caller fault wrapping ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Payment, error) {
	if id == "" {
		return nil, resilience.CallerFault(ErrMissingPayment, "id")
	}
	return resilience.Call(ctx, s.exec, DependencyKey, func(ctx context.Context) (*Payment, error) {
		var p Payment
		if err := s.db.WithContext(ctx).Where("id = ?", id).Take(&p).Error; err != nil {
			return nil, Classify(err)
		}
		return &p, nil
	})
}

// Ping checks connectivity without going through the executor, so health
// probes never charge the breaker or hold a pool slot.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
