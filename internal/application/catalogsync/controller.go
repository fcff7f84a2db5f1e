package catalogsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidWorkers is returned when the worker count is not positive.
var ErrInvalidWorkers = errors.New("catalogsync: worker count must be positive")

// Controller runs per-item work on at most K concurrent workers.
//
// A slot is held from dispatch until the item's function returns, so at
// most K items are in the normalize+write section at any time. Cancelling
// the dispatch context stops new items from starting; items already running
// continue on a context detached from that cancellation and bounded by the
// per-item timeout, so a write is never abandoned half way.
type Controller struct {
	workers     int
	itemTimeout time.Duration
	sem         *semaphore.Weighted

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

// NewController creates a controller with K workers.
func NewController(workers int, itemTimeout time.Duration) (*Controller, error) {
	if workers <= 0 {
		return nil, ErrInvalidWorkers
	}
	return &Controller{
		workers:     workers,
		itemTimeout: itemTimeout,
		sem:         semaphore.NewWeighted(int64(workers)),
	}, nil
}

// Workers returns K
func (c *Controller) Workers() int { return c.workers }

// InFlight returns the number of items currently being processed.
func (c *Controller) InFlight() int64 { return c.inFlight.Load() }

// MaxInFlight returns the highest concurrency observed since creation.
func (c *Controller) MaxInFlight() int64 { return c.maxInFlight.Load() }

// Run processes items and returns once every dispatched item has finished.
// fn must not panic; a failing item is reported through its own result and
// never stops its siblings. Run returns ctx.Err() if dispatch stopped early,
// along with the number of items that were dispatched.
func Run[T any](ctx context.Context, c *Controller, items []T, fn func(ctx context.Context, item T)) (int, error) {
	var wg sync.WaitGroup
	dispatched := 0

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := c.sem.Acquire(ctx, 1); err != nil {
			break
		}
		dispatched++
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer c.sem.Release(1)

			c.enter()
			defer c.inFlight.Add(-1)

			itemCtx := context.WithoutCancel(ctx)
			if c.itemTimeout > 0 {
				var cancel context.CancelFunc
				itemCtx, cancel = context.WithTimeout(itemCtx, c.itemTimeout)
				defer cancel()
			}
			fn(itemCtx, item)
		}(item)
	}

	wg.Wait()
	if dispatched < len(items) {
		return dispatched, ctx.Err()
	}
	return dispatched, nil
}

func (c *Controller) enter() {
	n := c.inFlight.Add(1)
	for {
		peak := c.maxInFlight.Load()
		if n <= peak || c.maxInFlight.CompareAndSwap(peak, n) {
			return
		}
	}
}
