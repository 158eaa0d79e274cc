package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool(t *testing.T) {
	p := NewPool(PoolConfig{})

	if p.config.Capacity != 10 {
		t.Errorf("Capacity = %d, want 10", p.config.Capacity)
	}
	if m := p.Metrics(); m.Outstanding != 0 || m.Utilization != 0 {
		t.Errorf("Metrics() = %+v, want empty pool", m)
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	p := NewPool(PoolConfig{Key: "db", Capacity: 2})
	ctx := context.Background()

	t1, err := p.Acquire(ctx, 0)
	if err != nil {
		t.Fatalf("First Acquire() error = %v", err)
	}
	if _, err := p.Acquire(ctx, 0); err != nil {
		t.Fatalf("Second Acquire() error = %v", err)
	}

	// Third should fail without waiting
	_, err = p.Acquire(ctx, 0)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Third Acquire() error = %v, want ErrPoolExhausted", err)
	}
	var exhausted *PoolExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error type = %T, want *PoolExhaustedError", err)
	}
	if exhausted.Key != "db" || exhausted.Capacity != 2 {
		t.Errorf("PoolExhaustedError = %+v, want key db capacity 2", exhausted)
	}

	p.Release(t1)

	if _, err := p.Acquire(ctx, 0); err != nil {
		t.Errorf("Acquire after release error = %v", err)
	}

	m := p.Metrics()
	if m.Outstanding != 2 {
		t.Errorf("Outstanding = %d, want 2", m.Outstanding)
	}
	if m.Rejected != 1 {
		t.Errorf("Rejected = %d, want 1", m.Rejected)
	}
	if m.Utilization != 1 {
		t.Errorf("Utilization = %v, want 1", m.Utilization)
	}
}

func TestPool_DoubleRelease(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 2})

	a, _ := p.Acquire(context.Background(), 0)
	b, _ := p.Acquire(context.Background(), 0)

	p.Release(a)
	p.Release(a)
	p.Release(nil)

	m := p.Metrics()
	if m.Outstanding != 1 {
		t.Errorf("Outstanding = %d, want 1", m.Outstanding)
	}
	if m.Released != 1 {
		t.Errorf("Released = %d, want 1", m.Released)
	}

	p.Release(b)
	if got := p.Metrics().Outstanding; got != 0 {
		t.Errorf("Outstanding = %d, want 0", got)
	}
}

func TestPool_ForeignToken(t *testing.T) {
	p1 := NewPool(PoolConfig{Capacity: 1})
	p2 := NewPool(PoolConfig{Capacity: 1})

	tok, _ := p1.Acquire(context.Background(), 0)
	p2.Release(tok)

	if got := p1.Metrics().Outstanding; got != 1 {
		t.Errorf("Outstanding = %d, want 1", got)
	}
}

func TestPool_AcquireWithWait(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 1})

	tok, err := p.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("First Acquire() error = %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.Release(tok)
	}()

	if _, err := p.Acquire(context.Background(), time.Second); err != nil {
		t.Errorf("Second Acquire() error = %v", err)
	}
	if got := p.Metrics().Outstanding; got != 1 {
		t.Errorf("Outstanding = %d, want 1", got)
	}
}

func TestPool_AcquireTimeout(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 2})

	for i := 0; i < 2; i++ {
		if _, err := p.Acquire(context.Background(), 0); err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}

	start := time.Now()
	_, err := p.Acquire(context.Background(), 50*time.Millisecond)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Acquire() error = %v, want ErrPoolExhausted", err)
	}
	if elapsed < 50*time.Millisecond {
		t.Errorf("Acquire() returned after %v, want >= 50ms", elapsed)
	}
	if got := p.Metrics().Waiters; got != 0 {
		t.Errorf("Waiters = %d, want 0 after timeout", got)
	}
}

func TestPool_AcquireContextCancel(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 1})
	if _, err := p.Acquire(context.Background(), 0); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := p.Acquire(ctx, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire() error = %v, want context.Canceled", err)
	}
	if got := p.Metrics().Waiters; got != 0 {
		t.Errorf("Waiters = %d, want 0", got)
	}
}

func TestPool_FIFO(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 1})

	holder, err := p.Acquire(context.Background(), 0)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	const n = 5
	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := p.Acquire(context.Background(), 5*time.Second)
			if err != nil {
				t.Errorf("waiter %d: Acquire() error = %v", i, err)
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			p.Release(tok)
		}(i)

		// Let waiter i enqueue before waiter i+1
		waitFor(t, func() bool { return p.Metrics().Waiters == i+1 })
	}

	p.Release(holder)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("grant order = %v, want ascending", order)
		}
	}
}

func TestPool_NeverExceedsCapacity(t *testing.T) {
	const capacity = 3
	p := NewPool(PoolConfig{Capacity: capacity})

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		peak    atomic.Int32
	)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(seed, seed))

			tok, err := p.Acquire(context.Background(), 5*time.Second)
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(time.Duration(rng.IntN(500)) * time.Microsecond)
			current.Add(-1)
			p.Release(tok)
			p.Release(tok)
		}(uint64(i))
	}
	wg.Wait()

	if got := peak.Load(); got > capacity {
		t.Errorf("peak concurrency = %d, want <= %d", got, capacity)
	}
	m := p.Metrics()
	if m.Outstanding != 0 {
		t.Errorf("Outstanding = %d, want 0", m.Outstanding)
	}
	if m.MaxOutstanding > capacity {
		t.Errorf("MaxOutstanding = %d, want <= %d", m.MaxOutstanding, capacity)
	}
	if m.Acquired != m.Released {
		t.Errorf("Acquired = %d, Released = %d, want equal", m.Acquired, m.Released)
	}
}

func TestPool_Reset(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 1})

	stale, _ := p.Acquire(context.Background(), 0)

	got := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), 5*time.Second)
		got <- err
	}()
	waitFor(t, func() bool { return p.Metrics().Waiters == 1 })

	p.Reset()

	if err := <-got; err != nil {
		t.Fatalf("waiter Acquire() error = %v, want grant after Reset", err)
	}
	if m := p.Metrics(); m.Outstanding != 1 {
		t.Errorf("Outstanding = %d, want 1", m.Outstanding)
	}

	// Tokens issued before the reset are inert
	p.Release(stale)
	if m := p.Metrics(); m.Outstanding != 1 {
		t.Errorf("Outstanding after stale release = %d, want 1", m.Outstanding)
	}
}

func TestPool_Close(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 1})
	held, _ := p.Acquire(context.Background(), 0)

	got := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), 5*time.Second)
		got <- err
	}()
	waitFor(t, func() bool { return p.Metrics().Waiters == 1 })

	p.Close()

	if err := <-got; !errors.Is(err, ErrPoolClosed) {
		t.Errorf("waiter error = %v, want ErrPoolClosed", err)
	}
	if _, err := p.Acquire(context.Background(), 0); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Acquire() after Close error = %v, want ErrPoolClosed", err)
	}

	p.Release(held)
	if m := p.Metrics(); m.Outstanding != 0 {
		t.Errorf("Outstanding = %d, want 0", m.Outstanding)
	}
}

func TestPool_Drain(t *testing.T) {
	p := NewPool(PoolConfig{Capacity: 2})

	if err := p.Drain(context.Background()); err != nil {
		t.Fatalf("Drain() on idle pool error = %v", err)
	}

	tok, _ := p.Acquire(context.Background(), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Drain(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Drain() with held token error = %v, want DeadlineExceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Release(tok)
	}()
	if err := p.Drain(context.Background()); err != nil {
		t.Errorf("Drain() error = %v", err)
	}
}

// waitFor polls cond until it holds or one second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(time.Millisecond)
	}
}
