package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/depguard/resilience"
)

// AuditDependencyKey is the executor key for audit store calls.
const AuditDependencyKey resilience.DependencyKey = "audit-store"

// Audit actions.
const (
	ActionReset = "reset"
)

// ErrAuditUnavailable wraps audit store failures.
var ErrAuditUnavailable = errors.New("admin: audit store unavailable")

// AuditEntry records one privileged action.
type AuditEntry struct {
	ID         string                   `json:"id"`
	Time       time.Time                `json:"time"`
	Subject    string                   `json:"subject"`
	Action     string                   `json:"action"`
	Dependency resilience.DependencyKey `json:"dependency"`

	// PreviousState and PreviousFailures describe the breaker before the action.
	PreviousState    resilience.State `json:"previous_state"`
	PreviousFailures int              `json:"previous_failures"`
	PreviousInFlight int              `json:"previous_in_flight"`
}

// AuditStore persists the audit trail.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Ordering: List returns the newest entries first.
type AuditStore interface {
	Append(ctx context.Context, entry AuditEntry) error
	List(ctx context.Context, limit int) ([]AuditEntry, error)
}

// DefaultAuditMaxEntries bounds the trail when no limit is configured.
const DefaultAuditMaxEntries = 1000

// MemoryAuditStore keeps the trail in process memory.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []AuditEntry
	max     int
}

// NewMemoryAuditStore creates a store keeping at most max entries.
func NewMemoryAuditStore(max int) *MemoryAuditStore {
	if max <= 0 {
		max = DefaultAuditMaxEntries
	}
	return &MemoryAuditStore{max: max}
}

// Append adds entry, dropping the oldest entry beyond the bound.
func (s *MemoryAuditStore) Append(_ context.Context, entry AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	if over := len(s.entries) - s.max; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (s *MemoryAuditStore) List(_ context.Context, limit int) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// RedisAuditOption configures a RedisAuditStore.
type RedisAuditOption func(*RedisAuditStore)

// WithAuditKey sets the Redis list key. Default: "depguard:audit".
func WithAuditKey(key string) RedisAuditOption {
	return func(s *RedisAuditStore) {
		if key != "" {
			s.key = key
		}
	}
}

// WithAuditMaxEntries bounds the list length. Default: DefaultAuditMaxEntries.
func WithAuditMaxEntries(n int) RedisAuditOption {
	return func(s *RedisAuditStore) {
		if n > 0 {
			s.max = n
		}
	}
}

// RedisAuditStore keeps the trail in a capped Redis list, newest first.
// Every Redis call runs through the executor under AuditDependencyKey.
type RedisAuditStore struct {
	rdb  redis.UniversalClient
	exec *resilience.Executor
	key  string
	max  int
}

// NewRedisAuditStore creates a Redis-backed audit store.
func NewRedisAuditStore(rdb redis.UniversalClient, exec *resilience.Executor, opts ...RedisAuditOption) *RedisAuditStore {
	s := &RedisAuditStore{
		rdb:  rdb,
		exec: exec,
		key:  "depguard:audit",
		max:  DefaultAuditMaxEntries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append pushes entry and trims the list in one transaction.
func (s *RedisAuditStore) Append(ctx context.Context, entry AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("admin: encode audit entry: %w", err)
	}
	err = s.exec.Execute(ctx, AuditDependencyKey, func(ctx context.Context) error {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LPush(ctx, s.key, data)
			pipe.LTrim(ctx, s.key, 0, int64(s.max-1))
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuditUnavailable, err)
	}
	return nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all
// retained entries. Entries that fail to decode are skipped.
func (s *RedisAuditStore) List(ctx context.Context, limit int) ([]AuditEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := resilience.Call(ctx, s.exec, AuditDependencyKey, func(ctx context.Context) ([]string, error) {
		vals, err := s.rdb.LRange(ctx, s.key, 0, stop).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return vals, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuditUnavailable, err)
	}

	entries := make([]AuditEntry, 0, len(raw))
	for _, v := range raw {
		var e AuditEntry
		if json.Unmarshal([]byte(v), &e) == nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

var (
	_ AuditStore = (*MemoryAuditStore)(nil)
	_ AuditStore = (*RedisAuditStore)(nil)
)
