package resilience

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// PoolConfig configures the pool accountant.
type PoolConfig struct {
	// Key names the dependency in returned errors.
	Key DependencyKey

	// Capacity is the maximum number of outstanding tokens.
	// Default: 10
	Capacity int

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// Token is a reservation of one pool slot. It must be returned with
// exactly one call to Pool.Release; further calls are ignored.
type Token struct {
	pool     *Pool
	gen      uint64
	released atomic.Bool
}

type waiter struct {
	ready chan *Token // buffered; receives nil when the pool closes
	done  bool        // guarded by Pool.mu
}

// Pool bounds the number of outstanding calls against one dependency.
// Callers beyond capacity wait in FIFO order until a slot frees or their
// deadline passes.
type Pool struct {
	config PoolConfig

	mu          sync.Mutex
	outstanding int
	waiters     *list.List
	gen         uint64
	closed      bool
	idle        chan struct{} // closed while outstanding == 0

	maxOutstanding int
	acquired       int64
	released       int64
	rejected       int64
}

// NewPool creates an empty pool.
func NewPool(config PoolConfig) *Pool {
	// Apply defaults
	if config.Capacity <= 0 {
		config.Capacity = 10
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	idle := make(chan struct{})
	close(idle)

	return &Pool{
		config:  config,
		waiters: list.New(),
		idle:    idle,
	}
}

// Acquire reserves a slot. When the pool is full the caller queues behind
// earlier waiters for at most deadline; a non-positive deadline fails at
// once. Returns *PoolExhaustedError when no slot frees in time,
// ErrPoolClosed after Close, or the context's error if ctx ends first.
func (p *Pool) Acquire(ctx context.Context, deadline time.Duration) (*Token, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := p.config.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	// Fast path: free slot and nobody ahead of us
	if p.outstanding < p.config.Capacity && p.waiters.Len() == 0 {
		tok := p.grantLocked()
		p.mu.Unlock()
		return tok, nil
	}

	if deadline <= 0 {
		p.rejected++
		p.mu.Unlock()
		return nil, p.exhausted(start)
	}

	w := &waiter{ready: make(chan *Token, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case tok := <-w.ready:
		if tok == nil {
			return nil, ErrPoolClosed
		}
		return tok, nil

	case <-timer.C:
		tok, settled := p.leave(w, elem)
		if settled {
			if tok == nil {
				return nil, ErrPoolClosed
			}
			// Granted in the same instant the deadline fired
			return tok, nil
		}
		p.mu.Lock()
		p.rejected++
		p.mu.Unlock()
		return nil, p.exhausted(start)

	case <-ctx.Done():
		if tok, settled := p.leave(w, elem); settled && tok != nil {
			p.Release(tok)
		}
		return nil, ctx.Err()
	}
}

// leave removes a waiter that gave up. If a grant or close raced with the
// caller giving up, the delivered value is returned with settled == true.
func (p *Pool) leave(w *waiter, elem *list.Element) (*Token, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w.done {
		return <-w.ready, true
	}
	p.waiters.Remove(elem)
	return nil, false
}

func (p *Pool) exhausted(start time.Time) error {
	return &PoolExhaustedError{
		Key:      p.config.Key,
		Capacity: p.config.Capacity,
		Waited:   p.config.Now().Sub(start),
	}
}

// grantLocked issues a new token for a slot that is not yet counted.
func (p *Pool) grantLocked() *Token {
	if p.outstanding == 0 {
		p.idle = make(chan struct{})
	}
	p.outstanding++
	if p.outstanding > p.maxOutstanding {
		p.maxOutstanding = p.outstanding
	}
	p.acquired++
	return &Token{pool: p, gen: p.gen}
}

// Release returns a slot. If callers are waiting, the slot passes directly
// to the head of the queue. Releasing the same token twice, a token from
// another pool, or a token issued before the last Reset is a no-op.
func (p *Pool) Release(tok *Token) {
	if tok == nil || tok.pool != p {
		return
	}
	if !tok.released.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.gen != p.gen {
		return
	}
	p.released++

	if front := p.waiters.Front(); front != nil {
		// Hand the slot over; outstanding is unchanged
		p.waiters.Remove(front)
		w := front.Value.(*waiter)
		w.done = true
		p.acquired++
		w.ready <- &Token{pool: p, gen: p.gen}
		return
	}

	p.outstanding--
	if p.outstanding == 0 {
		close(p.idle)
	}
}

// Reset zeroes the outstanding count for operator recovery. Tokens issued
// before the reset become inert, and queued waiters are admitted up to
// capacity.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.gen++
	if p.outstanding > 0 {
		p.outstanding = 0
		close(p.idle)
	}

	for p.outstanding < p.config.Capacity && p.waiters.Len() > 0 {
		front := p.waiters.Front()
		p.waiters.Remove(front)
		w := front.Value.(*waiter)
		w.done = true
		w.ready <- p.grantLocked()
	}
}

// Close fails every queued waiter with ErrPoolClosed and rejects further
// acquisitions. Outstanding tokens can still be released.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.done = true
		w.ready <- nil
	}
	p.waiters.Init()
}

// Drain blocks until every outstanding token has been released or ctx ends.
func (p *Pool) Drain(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := p.idle
		p.mu.Unlock()

		select {
		case <-idle:
			p.mu.Lock()
			n := p.outstanding
			p.mu.Unlock()
			if n == 0 {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Metrics returns current pool metrics.
func (p *Pool) Metrics() PoolMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	return PoolMetrics{
		Capacity:       p.config.Capacity,
		Outstanding:    p.outstanding,
		Waiters:        p.waiters.Len(),
		MaxOutstanding: p.maxOutstanding,
		Acquired:       p.acquired,
		Released:       p.released,
		Rejected:       p.rejected,
		Utilization:    float64(p.outstanding) / float64(p.config.Capacity),
	}
}

// PoolMetrics contains pool statistics.
type PoolMetrics struct {
	Capacity       int
	Outstanding    int
	Waiters        int
	MaxOutstanding int
	Acquired       int64
	Released       int64
	Rejected       int64
	Utilization    float64 // Outstanding / Capacity, in [0, 1]
}
