// Package batch groups many small lookups into bounded batches so upstream
// rate limits are respected.
package batch

import (
	"context"
	"sync"
	"time"
)

// ItemError pairs a failed item with its error.
type ItemError[T any] struct {
	Item T
	Err  error
}

// Result is the outcome of one flushed batch. Every item of the batch
// appears exactly once, either in Succeeded or in Failed.
type Result[T, R any] struct {
	Succeeded []R
	Failed    []ItemError[T]
}

// Func processes one batch. It may fail for a subset of items; a returned
// error marks every item of the batch as failed. The coordinator never
// retries; that is the caller's responsibility.
type Func[T, R any] func(ctx context.Context, items []T) (*Result[T, R], error)

// Coordinator accumulates items until the batch size is reached or the
// oldest unflushed item has waited maxWait, then invokes fn once for the
// whole batch. Flushes are serialized even under concurrent Add callers.
type Coordinator[T, R any] struct {
	fn        Func[T, R]
	batchSize int
	maxWait   time.Duration

	mu      sync.Mutex
	pending []T
	oldest  time.Time
}

func NewCoordinator[T, R any](batchSize int, maxWait time.Duration, fn Func[T, R]) *Coordinator[T, R] {
	if batchSize <= 0 {
		batchSize = 1
	}

	return &Coordinator[T, R]{
		fn:        fn,
		batchSize: batchSize,
		maxWait:   maxWait,
	}
}

// Add queues an item. When this call fills the batch, the batch is flushed
// and its result returned; otherwise the result is nil.
func (c *Coordinator[T, R]) Add(ctx context.Context, item T) (*Result[T, R], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		c.oldest = time.Now()
	}

	c.pending = append(c.pending, item)

	if len(c.pending) < c.batchSize {
		return nil, nil
	}

	return c.flushLocked(ctx)
}

// Flush processes whatever is pending, if anything.
func (c *Coordinator[T, R]) Flush(ctx context.Context) (*Result[T, R], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.flushLocked(ctx)
}

// FlushIfDue flushes only when the oldest pending item has waited at least
// maxWait. Intended to be driven by a caller-owned ticker.
func (c *Coordinator[T, R]) FlushIfDue(ctx context.Context, now time.Time) (*Result[T, R], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 || now.Sub(c.oldest) < c.maxWait {
		return nil, nil
	}

	return c.flushLocked(ctx)
}

// Pending returns the number of unflushed items.
func (c *Coordinator[T, R]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// flushLocked runs fn under the coordinator lock, which is what serializes
// concurrent flushes.
func (c *Coordinator[T, R]) flushLocked(ctx context.Context) (*Result[T, R], error) {
	if len(c.pending) == 0 {
		return nil, nil
	}

	items := c.pending
	c.pending = nil

	result, err := c.fn(ctx, items)
	if err != nil {
		// The whole batch failed; no item is dropped silently.
		failed := make([]ItemError[T], len(items))
		for i, item := range items {
			failed[i] = ItemError[T]{Item: item, Err: err}
		}

		return &Result[T, R]{Failed: failed}, nil
	}

	return result, nil
}
