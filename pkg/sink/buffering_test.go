package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestBuffering_FlushDrainsSnapshot verifies items accepted during ingest are
// kept for the next flush rather than lost or ingested twice.
func TestBuffering_FlushDrainsSnapshot(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]int
	)

	var buf *Buffering[int]
	buf = NewBuffering(func(ctx context.Context, batch []int) error {
		mu.Lock()
		first := len(batches) == 0
		batches = append(batches, append([]int(nil), batch...))
		mu.Unlock()

		// Items arriving while the first batch is being ingested.
		if first {
			buf.Accept(100)
			buf.Accept(101)
		}
		return nil
	})

	for i := 0; i < 5; i++ {
		buf.Accept(i)
	}

	ctx := context.Background()
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if buf.Len() != 2 {
		t.Fatalf("Expected 2 items buffered after first flush, got %d", buf.Len())
	}
	if err := buf.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	if len(batches) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(batches))
	}
	if fmt.Sprint(batches[0]) != "[0 1 2 3 4]" {
		t.Errorf("Unexpected first batch: %v", batches[0])
	}
	if fmt.Sprint(batches[1]) != "[100 101]" {
		t.Errorf("Unexpected second batch: %v", batches[1])
	}
}

// TestBuffering_EmptyFlush verifies ingest is not called for an empty buffer.
func TestBuffering_EmptyFlush(t *testing.T) {
	called := false
	buf := NewBuffering(func(ctx context.Context, batch []string) error {
		called = true
		return nil
	})

	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if called {
		t.Error("ingest called for empty buffer")
	}
}

// TestBuffering_ConcurrentAccept verifies nothing is lost or duplicated when
// producers race with flushes.
func TestBuffering_ConcurrentAccept(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[int]int)
	)
	buf := NewBuffering(func(ctx context.Context, batch []int) error {
		mu.Lock()
		defer mu.Unlock()
		for _, v := range batch {
			seen[v]++
		}
		return nil
	})

	const producers, perProducer = 8, 500
	var wg sync.WaitGroup
	stop := make(chan struct{})
	flushed := make(chan struct{})

	go func() {
		defer close(flushed)
		for {
			select {
			case <-stop:
				return
			default:
				_ = buf.Flush(context.Background())
			}
		}
	}()

	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				buf.Accept(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()
	close(stop)
	<-flushed

	if err := buf.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	if len(seen) != producers*perProducer {
		t.Fatalf("Expected %d distinct items, got %d", producers*perProducer, len(seen))
	}
	for v, n := range seen {
		if n != 1 {
			t.Fatalf("Item %d ingested %d times", v, n)
		}
	}
}

// TestBuffering_IngestError verifies the ingest error is returned.
func TestBuffering_IngestError(t *testing.T) {
	boom := errors.New("boom")
	buf := NewBuffering(func(ctx context.Context, batch []int) error {
		return boom
	})
	buf.AcceptAll([]int{1, 2})

	if err := buf.Flush(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected drained buffer, got %d items", buf.Len())
	}
}

// TestFlusher_FlushesPeriodically verifies the loop drains the buffer and
// that Reset changes the interval.
func TestFlusher_FlushesPeriodically(t *testing.T) {
	var ingested atomic.Int64
	buf := NewBuffering(func(ctx context.Context, batch []int) error {
		ingested.Add(int64(len(batch)))
		return nil
	})

	f := StartFlusher(buf.Flush, 10*time.Millisecond, nil)
	defer f.Stop()

	buf.AcceptAll([]int{1, 2, 3})

	deadline := time.Now().Add(2 * time.Second)
	for ingested.Load() != 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ingested.Load() != 3 {
		t.Fatalf("Expected 3 ingested items, got %d", ingested.Load())
	}

	f.Reset(20 * time.Millisecond)
	if f.Interval() != 20*time.Millisecond {
		t.Errorf("Expected interval 20ms after Reset, got %v", f.Interval())
	}

	f.Stop()
	f.Stop()
}

// TestMemory_Recording tests the recording sink.
func TestMemory_Recording(t *testing.T) {
	m := NewMemory[string]()
	m.Accept("a")
	m.Accept("b")

	last, ok := m.Pop()
	if !ok || last != "b" {
		t.Fatalf("Expected Pop() = b, got %q (%v)", last, ok)
	}
	if got := m.All(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Unexpected All(): %v", got)
	}
	if m.Completed() != 2 {
		t.Errorf("Expected Completed() = 2, got %d", m.Completed())
	}

	m.Reset()
	if _, ok := m.Pop(); ok {
		t.Error("Expected empty sink after Reset")
	}

	var discard Sink[int] = BlackHole[int]()
	discard.Accept(1)

	var calls int
	Func[int](func(int) { calls++ }).Accept(1)
	if calls != 1 {
		t.Errorf("Expected Func sink to be called once, got %d", calls)
	}
}
