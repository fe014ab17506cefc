package sink

import (
	"context"
	"sync"
)

// IngestFunc receives a drained batch. It is never called with an empty batch.
type IngestFunc[T any] func(ctx context.Context, batch []T) error

// Buffering is an in-memory FIFO that hands its contents to an IngestFunc
// on Flush. Concrete sinks embed it and supply the ingest step.
//
// Buffering is safe for concurrent use.
type Buffering[T any] struct {
	mu     sync.Mutex
	buffer []T
	ingest IngestFunc[T]
}

// NewBuffering creates a buffering sink draining into ingest.
func NewBuffering[T any](ingest IngestFunc[T]) *Buffering[T] {
	return &Buffering[T]{ingest: ingest}
}

// Accept appends item to the buffer.
func (b *Buffering[T]) Accept(item T) {
	b.mu.Lock()
	b.buffer = append(b.buffer, item)
	b.mu.Unlock()
}

// AcceptAll appends items to the buffer preserving their order.
func (b *Buffering[T]) AcceptAll(items []T) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	b.buffer = append(b.buffer, items...)
	b.mu.Unlock()
}

// Len returns the number of buffered items.
func (b *Buffering[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Flush drains exactly the items present at call time and passes them to
// the ingest function. Items accepted while ingest runs stay buffered for
// the next Flush. An empty buffer is a no-op.
func (b *Buffering[T]) Flush(ctx context.Context) error {
	batch := b.Drain()
	if len(batch) == 0 {
		return nil
	}
	return b.ingest(ctx, batch)
}

// Drain removes and returns the buffered items without ingesting them.
func (b *Buffering[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.buffer)
	if n == 0 {
		return nil
	}
	batch := b.buffer[:n:n]
	b.buffer = nil
	return batch
}
