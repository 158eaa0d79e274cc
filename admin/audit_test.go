package admin

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonwraymond/depguard/resilience"
)

func newTestExecutor(t *testing.T, threshold int) (*resilience.Registry, *resilience.Executor) {
	t.Helper()
	p := resilience.DefaultPolicy()
	p.MaxAttempts = 2
	p.BackoffBase = time.Millisecond
	p.JitterMax = 0
	p.PerAttemptTimeout = time.Second
	p.FailureThreshold = threshold
	reg, err := resilience.NewRegistry(resilience.RegistryConfig{Default: &p})
	require.NoError(t, err)
	return reg, resilience.NewExecutor(reg, resilience.WithSleep(func(context.Context, time.Duration) error { return nil }))
}

func entry(n int) AuditEntry {
	return AuditEntry{
		ID:            fmt.Sprintf("entry-%d", n),
		Time:          time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC),
		Subject:       "alice",
		Action:        ActionReset,
		Dependency:    "payment-service",
		PreviousState: resilience.StateOpen,
	}
}

func ids(entries []AuditEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestMemoryAuditStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAuditStore(3)
	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, entry(i)))
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-5", "entry-4", "entry-3"}, ids(all))

	two, err := s.List(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-5", "entry-4"}, ids(two))
}

func TestMemoryAuditStore_DefaultMax(t *testing.T) {
	s := NewMemoryAuditStore(-1)
	assert.Equal(t, DefaultAuditMaxEntries, s.max)
}

func newRedisStore(t *testing.T, opts ...RedisAuditOption) (*RedisAuditStore, *miniredis.Miniredis, *resilience.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	reg, exec := newTestExecutor(t, 5)
	return NewRedisAuditStore(rdb, exec, opts...), mr, reg
}

func TestRedisAuditStore_AppendList(t *testing.T) {
	ctx := context.Background()
	s, mr, reg := newRedisStore(t, WithAuditKey("test:audit"), WithAuditMaxEntries(3))

	for i := 1; i <= 4; i++ {
		require.NoError(t, s.Append(ctx, entry(i)))
	}

	items, err := mr.List("test:audit")
	require.NoError(t, err)
	assert.Len(t, items, 3, "list is trimmed to the configured bound")

	got, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"entry-4", "entry-3"}, ids(got))
	assert.Equal(t, resilience.StateOpen, got[0].PreviousState)
	assert.Equal(t, "alice", got[0].Subject)
	assert.True(t, got[0].Time.Equal(entry(4).Time))

	_, ok := reg.Lookup(AuditDependencyKey)
	assert.True(t, ok, "redis calls run through the executor")
}

func TestRedisAuditStore_ListEmpty(t *testing.T) {
	s, _, _ := newRedisStore(t)

	got, err := s.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRedisAuditStore_SkipsUndecodable(t *testing.T) {
	ctx := context.Background()
	s, mr, _ := newRedisStore(t)
	require.NoError(t, s.Append(ctx, entry(1)))
	_, err := mr.Lpush("depguard:audit", "not json")
	require.NoError(t, err)

	got, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"entry-1"}, ids(got))
}

func TestRedisAuditStore_Unavailable(t *testing.T) {
	ctx := context.Background()
	s, mr, reg := newRedisStore(t)
	mr.Close()

	err := s.Append(ctx, entry(1))
	require.ErrorIs(t, err, ErrAuditUnavailable)
	assert.ErrorIs(t, err, resilience.ErrRetriesExhausted)

	_, err = s.List(ctx, 1)
	assert.ErrorIs(t, err, ErrAuditUnavailable)

	dep, ok := reg.Lookup(AuditDependencyKey)
	require.True(t, ok)
	assert.Equal(t, 4, dep.Breaker().Metrics().ConsecutiveFailures)
}
