// Package resilience bounds concurrency into expensive subsystems
// (embedding generation, external index backends) and bounds how long any
// single call is allowed to run, as two reusable primitives.
package resilience

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/subcog/subcog/internal/errs"
)

const defaultAcquireTimeout = 30 * time.Second

// BulkheadConfig configures a Bulkhead's concurrency limit and acquire
// behavior.
type BulkheadConfig struct {
	// MaxConcurrent bounds how many calls may run at once. Values below 1
	// are treated as 1.
	MaxConcurrent int
	// AcquireTimeout bounds how long Run waits for a free slot before
	// giving up with a Timeout error. Zero uses a 30s default; FailFast
	// takes precedence over this when both are set.
	AcquireTimeout time.Duration
	// FailFast rejects immediately when the bulkhead is full instead of
	// waiting up to AcquireTimeout.
	FailFast bool
}

// Bulkhead limits the number of concurrent operations against a single
// resource, protecting it from unbounded fan-out.
type Bulkhead struct {
	name      string
	cfg       BulkheadConfig
	sem       *semaphore.Weighted
	inFlight  int64
}

// NewBulkhead constructs a Bulkhead. name identifies the protected resource
// in error messages (e.g. "embedding", "index.postgres").
func NewBulkhead(name string, cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	return &Bulkhead{
		name: name,
		cfg:  cfg,
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// AvailablePermits reports how many concurrent slots are free right now.
// Best-effort: the value can be stale by the time the caller acts on it.
func (b *Bulkhead) AvailablePermits() int {
	n := int(int64(b.cfg.MaxConcurrent) - atomic.LoadInt64(&b.inFlight))
	if n < 0 {
		return 0
	}
	return n
}

// Run executes fn once a permit is available, releasing it afterward
// regardless of fn's outcome. It returns an *errs.Error{Kind: Timeout} if
// FailFast is set and the bulkhead is full, or if AcquireTimeout elapses
// first.
func (b *Bulkhead) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if b.cfg.FailFast {
		if !b.sem.TryAcquire(1) {
			return errs.New(errs.Timeout, "resilience.bulkhead."+b.name, nil)
		}
		atomic.AddInt64(&b.inFlight, 1)
		defer func() {
			atomic.AddInt64(&b.inFlight, -1)
			b.sem.Release(1)
		}()
		return fn(ctx)
	}

	timeout := b.cfg.AcquireTimeout
	if timeout <= 0 {
		timeout = defaultAcquireTimeout
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := b.sem.Acquire(acquireCtx, 1); err != nil {
		return errs.New(errs.Timeout, "resilience.bulkhead."+b.name, err)
	}
	atomic.AddInt64(&b.inFlight, 1)
	defer func() {
		atomic.AddInt64(&b.inFlight, -1)
		b.sem.Release(1)
	}()

	return fn(ctx)
}
