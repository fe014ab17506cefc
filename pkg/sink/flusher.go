package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Flusher calls a flush function on a fixed interval. A flush that outlasts
// the interval delays the next one; flushes never overlap.
type Flusher struct {
	flush  func(ctx context.Context) error
	logger *slog.Logger

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// StartFlusher starts a flush loop with the given interval.
func StartFlusher(flush func(ctx context.Context) error, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Flusher{
		flush:  flush,
		logger: logger.With("component", "apm.flusher"),
	}
	f.start(interval)
	return f
}

// Interval returns the current flush interval.
func (f *Flusher) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// Reset stops the loop, waiting for an in-flight flush, and restarts it
// with a new interval.
func (f *Flusher) Reset(interval time.Duration) {
	f.Stop()
	f.start(interval)
}

// Stop ends the loop and waits for an in-flight flush to return.
// Calling Stop on a stopped Flusher is a no-op.
func (f *Flusher) Stop() {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.cancel, f.done = nil, nil
	f.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (f *Flusher) start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	f.mu.Lock()
	f.interval = interval
	f.cancel = cancel
	f.done = done
	f.mu.Unlock()

	go f.loop(ctx, interval, done)
}

func (f *Flusher) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			// The flush itself is not cancelled by Stop; a half-ingested
			// batch would otherwise be lost.
			if err := f.flush(context.WithoutCancel(ctx)); err != nil {
				f.logger.Warn("flush failed", "error", err)
			}
			timer.Reset(interval)
		}
	}
}
