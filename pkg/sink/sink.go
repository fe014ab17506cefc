package sink

import "context"

// Sink is a consumer of completed items.
type Sink[T any] interface {
	Accept(item T)
}

// Batcher is implemented by sinks that can take a whole batch at once.
// The broker bridge prefers this path over per-item Accept.
type Batcher[T any] interface {
	Ingest(ctx context.Context, batch []T) error
}

// Func adapts a function to the Sink interface.
type Func[T any] func(item T)

// Accept calls f(item).
func (f Func[T]) Accept(item T) {
	f(item)
}

type blackHole[T any] struct{}

func (blackHole[T]) Accept(T) {}

// BlackHole returns a sink that discards every item.
func BlackHole[T any]() Sink[T] {
	return blackHole[T]{}
}
