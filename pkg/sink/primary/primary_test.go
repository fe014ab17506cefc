package primary

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/deflate"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/dlq"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

var errDown = errors.New("store down")

func batch(reqID string, n int) []*transaction.Transaction {
	out := make([]*transaction.Transaction, n)
	for i := range out {
		txn := transaction.New("orders", "Service", "place", reqID, int64(i+1))
		txn.Status = transaction.StatusSuccess
		out[i] = txn
	}
	return out
}

// hookStore runs onInsert before each insert.
type hookStore struct {
	*docstore.Memory
	onInsert func()
}

func (s *hookStore) InsertMany(ctx context.Context, batch []*transaction.Transaction) error {
	s.onInsert()
	return s.Memory.InsertMany(ctx, batch)
}

func memoryConnector(mem *docstore.Memory) docstore.Connector {
	return func(context.Context) (docstore.Store, error) {
		return mem, nil
	}
}

func newQueue(t *testing.T, base, prefix string) *dlq.DLQ {
	t.Helper()
	q, err := dlq.New(dlq.Config{Base: base, Prefix: prefix})
	if err != nil {
		t.Fatalf("dlq.New() failed: %v", err)
	}
	return q
}

func queueLen(t *testing.T, q *dlq.DLQ) int {
	t.Helper()
	n, err := q.Len()
	if err != nil {
		t.Fatalf("Len() failed: %v", err)
	}
	return n
}

func testMetrics() *metrics.Collector {
	return metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "apm"}, prometheus.NewRegistry())
}

func TestWorker_Flush(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: newQueue(t, t.TempDir(), "worker-0")})

	if err := w.Flush(ctx, batch("r1", 3)); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if err := w.Flush(ctx, nil); err != nil {
		t.Fatalf("Flush(nil) failed: %v", err)
	}

	if got := len(mem.Docs()); got != 3 {
		t.Errorf("stored %d docs, want 3", got)
	}
	if got := mem.Inserts(); got != 1 {
		t.Errorf("Inserts() = %d, want 1", got)
	}
}

func TestWorker_FailureSpoolsThenDrains(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	q := newQueue(t, t.TempDir(), "worker-0")
	m := testMetrics()
	w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: q, Metrics: m})

	first := batch("r1", 2)
	mem.FailNext(errDown)

	err := w.Flush(ctx, first)
	if !errors.Is(err, errDown) {
		t.Fatalf("Flush() error = %v, want %v", err, errDown)
	}
	if got := queueLen(t, q); got != 1 {
		t.Fatalf("dead-letter entries = %d, want 1", got)
	}

	for entry, err := range q.List(ctx) {
		if err != nil {
			t.Fatalf("List() failed: %v", err)
		}
		if len(entry.Transactions) != 2 || entry.Transactions[0].ReqID != "r1" {
			t.Errorf("spooled batch = %+v, want the original two Transactions", entry.Transactions)
		}
	}

	if err := w.Flush(ctx, batch("r2", 2)); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if got := queueLen(t, q); got != 0 {
		t.Errorf("dead-letter entries after drain = %d, want 0", got)
	}
	if got := len(mem.Docs()); got != 4 {
		t.Errorf("stored %d docs, want 4", got)
	}

	// A clean queue is not scanned again until something is spooled.
	inserts := mem.Inserts()
	if err := w.Flush(ctx, batch("r3", 1)); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if got := mem.Inserts(); got != inserts+1 {
		t.Errorf("Inserts() = %d, want %d", got, inserts+1)
	}

	expected := `
# HELP test_apm_dlq_spooled_total Total number of transactions written to the dead-letter queue
# TYPE test_apm_dlq_spooled_total counter
test_apm_dlq_spooled_total{reason="flush"} 2
# HELP test_apm_dlq_drained_total Total number of dead-letter transactions inserted into the primary store
# TYPE test_apm_dlq_drained_total counter
test_apm_dlq_drained_total 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
		"test_apm_dlq_spooled_total", "test_apm_dlq_drained_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestWorker_ConnectFailureSpools(t *testing.T) {
	ctx := context.Background()
	q := newQueue(t, t.TempDir(), "worker-0")
	w := NewWorker(WorkerConfig{
		Connector: func(context.Context) (docstore.Store, error) { return nil, errDown },
		DLQ:       q,
	})

	if err := w.Flush(ctx, batch("r1", 1)); !errors.Is(err, errDown) {
		t.Fatalf("Flush() error = %v, want %v", err, errDown)
	}
	if got := queueLen(t, q); got != 1 {
		t.Errorf("dead-letter entries = %d, want 1", got)
	}
}

func TestWorker_ProcessDLQ(t *testing.T) {
	ctx := context.Background()

	t.Run("accumulates entries into one insert", func(t *testing.T) {
		mem := docstore.NewMemory()
		q := newQueue(t, t.TempDir(), "worker-0")
		for i := 0; i < 3; i++ {
			if err := q.Accept(batch("r", 2)...); err != nil {
				t.Fatalf("Accept() failed: %v", err)
			}
		}
		w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: q})

		n, err := w.ProcessDLQ(ctx, true)
		if err != nil {
			t.Fatalf("ProcessDLQ() failed: %v", err)
		}
		if n != 6 {
			t.Errorf("ProcessDLQ() = %d, want 6", n)
		}
		if got := mem.Inserts(); got != 1 {
			t.Errorf("Inserts() = %d, want 1", got)
		}
		if got := queueLen(t, q); got != 0 {
			t.Errorf("dead-letter entries = %d, want 0", got)
		}
	})

	t.Run("stops at the first failed insert", func(t *testing.T) {
		mem := docstore.NewMemory()
		q := newQueue(t, t.TempDir(), "worker-0")
		for i := 0; i < 3; i++ {
			if err := q.Accept(batch("r", 1)...); err != nil {
				t.Fatalf("Accept() failed: %v", err)
			}
		}
		w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: q, DrainBatch: 1})

		// The first drain insert succeeds, the second fails.
		mem.FailNext(nil, errDown)

		n, err := w.ProcessDLQ(ctx, true)
		if err == nil {
			t.Fatal("ProcessDLQ() succeeded, want error")
		}
		if n != 1 {
			t.Errorf("ProcessDLQ() = %d, want 1", n)
		}
		if got := queueLen(t, q); got != 2 {
			t.Errorf("dead-letter entries = %d, want 2", got)
		}

		n, err = w.ProcessDLQ(ctx, false)
		if err != nil {
			t.Fatalf("ProcessDLQ() failed: %v", err)
		}
		if n != 2 {
			t.Errorf("second ProcessDLQ() = %d, want 2", n)
		}
	})

	t.Run("leaves unreadable entries in place", func(t *testing.T) {
		mem := docstore.NewMemory()
		q := newQueue(t, t.TempDir(), "worker-0")
		if err := q.Accept(batch("r", 1)...); err != nil {
			t.Fatalf("Accept() failed: %v", err)
		}
		if err := os.WriteFile(filepath.Join(q.Dir(), "corrupt"), []byte("{"), 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: q})

		n, err := w.ProcessDLQ(ctx, true)
		if err != nil {
			t.Fatalf("ProcessDLQ() failed: %v", err)
		}
		if n != 1 {
			t.Errorf("ProcessDLQ() = %d, want 1", n)
		}
		if got := queueLen(t, q); got != 1 {
			t.Errorf("dead-letter entries = %d, want 1", got)
		}
	})

	t.Run("skips a clean queue unless forced", func(t *testing.T) {
		mem := docstore.NewMemory()
		q := newQueue(t, t.TempDir(), "worker-0")
		w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: q})

		// Written behind the worker's back, so it is not marked dirty.
		if err := q.Accept(batch("r", 1)...); err != nil {
			t.Fatalf("Accept() failed: %v", err)
		}

		if n, _ := w.ProcessDLQ(ctx, false); n != 0 {
			t.Errorf("ProcessDLQ(false) = %d, want 0", n)
		}
		if n, _ := w.ProcessDLQ(ctx, true); n != 1 {
			t.Errorf("ProcessDLQ(true) = %d, want 1", n)
		}
	})

	t.Run("keeps entries spooled while draining", func(t *testing.T) {
		mem := docstore.NewMemory()
		q := newQueue(t, t.TempDir(), "worker-0")
		if err := q.Accept(batch("r1", 1)...); err != nil {
			t.Fatalf("Accept() failed: %v", err)
		}

		var w *Worker
		var once sync.Once
		store := &hookStore{Memory: mem, onInsert: func() {
			once.Do(func() {
				if err := q.Accept(batch("late", 1)...); err != nil {
					t.Errorf("Accept() failed: %v", err)
				}
				w.MarkDirty()
			})
		}}
		w = NewWorker(WorkerConfig{
			Connector: func(context.Context) (docstore.Store, error) { return store, nil },
			DLQ:       q,
		})

		if n, err := w.ProcessDLQ(ctx, true); err != nil || n != 1 {
			t.Fatalf("ProcessDLQ(true) = %d, %v, want 1", n, err)
		}
		if n, err := w.ProcessDLQ(ctx, false); err != nil || n != 1 {
			t.Errorf("ProcessDLQ(false) = %d, %v, want the late entry drained", n, err)
		}
	})

	t.Run("drains leftovers of a previous run", func(t *testing.T) {
		mem := docstore.NewMemory()
		base := t.TempDir()
		if err := newQueue(t, base, "worker-0").Accept(batch("r", 1)...); err != nil {
			t.Fatalf("Accept() failed: %v", err)
		}
		w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: newQueue(t, base, "worker-0")})

		if n, _ := w.ProcessDLQ(ctx, false); n != 1 {
			t.Errorf("ProcessDLQ(false) = %d, want 1", n)
		}
	})
}

func TestWorker_DrainEvery(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	q := newQueue(t, t.TempDir(), "worker-0")
	w := NewWorker(WorkerConfig{Connector: memoryConnector(mem), DLQ: q, DrainEvery: 2})

	if err := q.Accept(batch("late", 1)...); err != nil {
		t.Fatalf("Accept() failed: %v", err)
	}

	if err := w.Flush(ctx, batch("r1", 1)); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if got := queueLen(t, q); got != 1 {
		t.Fatalf("dead-letter entries after first flush = %d, want 1", got)
	}
	if err := w.Flush(ctx, batch("r2", 1)); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if got := queueLen(t, q); got != 0 {
		t.Errorf("dead-letter entries after second flush = %d, want 0", got)
	}
}

func binaryBatch(payload []byte) []*transaction.Transaction {
	txn := transaction.New("files", "Store", "put", "r1", 1)
	txn.Input = map[string]any{"data": payload}
	return []*transaction.Transaction{txn}
}

func TestWorker_BinaryPayloadThroughDLQ(t *testing.T) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte{0, 7, 255}, 1366)
	hash := blob.Hash(payload)

	for _, s := range []codec.Serializer{codec.JSON, codec.CBOR} {
		t.Run(s.Name(), func(t *testing.T) {
			mem := docstore.NewMemory()
			q, err := dlq.New(dlq.Config{Base: t.TempDir(), Prefix: "worker-0", Serializer: s})
			if err != nil {
				t.Fatalf("dlq.New() failed: %v", err)
			}
			w := NewWorker(WorkerConfig{
				Connector:  memoryConnector(mem),
				DLQ:        q,
				Blobs:      StoreBlobs,
				EmbedLimit: 16,
			})

			mem.FailNext(errDown)
			if err := w.Flush(ctx, binaryBatch(payload)); !errors.Is(err, errDown) {
				t.Fatalf("Flush() error = %v, want %v", err, errDown)
			}

			for entry, err := range q.List(ctx) {
				if err != nil {
					t.Fatalf("List() failed: %v", err)
				}
				got, ok := entry.Transactions[0].Input.(map[string]any)["data"].([]byte)
				if !ok || !bytes.Equal(got, payload) {
					t.Errorf("spooled input = %T, want the payload bytes", entry.Transactions[0].Input.(map[string]any)["data"])
				}
			}

			if n, err := w.ProcessDLQ(ctx, true); err != nil || n != 1 {
				t.Fatalf("ProcessDLQ() = %d, %v, want 1", n, err)
			}
			docs := mem.Docs()
			if len(docs) != 1 {
				t.Fatalf("stored %d docs, want 1", len(docs))
			}
			if got, ok := deflate.HandleHash(docs[0].Input.(map[string]any)["data"], deflate.DefaultHandleKey); !ok || got != hash {
				t.Errorf("stored input = %v, want handle for %s", docs[0].Input, hash)
			}
			stored, err := mem.BlobStore().Fetch(ctx, hash)
			if err != nil || !bytes.Equal(stored, payload) {
				t.Errorf("Fetch(%s) = %d bytes, %v, want the payload", hash, len(stored), err)
			}
		})
	}
}

func TestWorker_Blobs(t *testing.T) {
	ctx := context.Background()
	payload := bytes.Repeat([]byte{7}, 64)
	hash := blob.Hash(payload)

	t.Run("externalizes and remembers stored hashes", func(t *testing.T) {
		mem := docstore.NewMemory()
		m := testMetrics()
		w := NewWorker(WorkerConfig{
			Connector:  memoryConnector(mem),
			DLQ:        newQueue(t, t.TempDir(), "worker-0"),
			Blobs:      StoreBlobs,
			EmbedLimit: 16,
			Metrics:    m,
		})

		original := binaryBatch(payload)
		if err := w.Flush(ctx, original); err != nil {
			t.Fatalf("Flush() failed: %v", err)
		}
		if _, ok := original[0].Input.(map[string]any)["data"].([]byte); !ok {
			t.Error("Flush() modified the caller's batch")
		}

		// Hashes in the cache are not offered to the blob store again.
		mem.BlobStore().Fail(hash, errDown)
		if err := w.Flush(ctx, binaryBatch(payload)); err != nil {
			t.Fatalf("Flush() failed: %v", err)
		}

		docs := mem.Docs()
		for i, doc := range docs {
			got, ok := deflate.HandleHash(doc.Input.(map[string]any)["data"], deflate.DefaultHandleKey)
			if !ok || got != hash {
				t.Errorf("doc %d input = %v, want handle for %s", i, doc.Input, hash)
			}
		}
		if got := mem.BlobStore().Len(); got != 1 {
			t.Errorf("blob store holds %d blobs, want 1", got)
		}

		expected := `
# HELP test_apm_blob_known_hash_hits_total Total number of blob writes skipped because the hash was already stored
# TYPE test_apm_blob_known_hash_hits_total counter
test_apm_blob_known_hash_hits_total 1
# HELP test_apm_blob_known_hash_misses_total Total number of blob hashes not found in the known-hash cache
# TYPE test_apm_blob_known_hash_misses_total counter
test_apm_blob_known_hash_misses_total 1
`
		if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected),
			"test_apm_blob_known_hash_hits_total", "test_apm_blob_known_hash_misses_total"); err != nil {
			t.Errorf("unexpected metrics: %v", err)
		}
	})

	t.Run("embeds payloads the blob store rejects", func(t *testing.T) {
		mem := docstore.NewMemory()
		mem.BlobStore().Fail(hash, errDown)
		w := NewWorker(WorkerConfig{
			Connector:  memoryConnector(mem),
			DLQ:        newQueue(t, t.TempDir(), "worker-0"),
			Blobs:      StoreBlobs,
			EmbedLimit: 16,
		})

		if err := w.Flush(ctx, binaryBatch(payload)); err != nil {
			t.Fatalf("Flush() failed: %v", err)
		}
		got, ok := mem.Docs()[0].Input.(map[string]any)["data"].([]byte)
		if !ok || !bytes.Equal(got, payload) {
			t.Errorf("stored input = %v, want embedded payload", mem.Docs()[0].Input)
		}
	})

	t.Run("small payloads stay inline", func(t *testing.T) {
		mem := docstore.NewMemory()
		w := NewWorker(WorkerConfig{
			Connector:  memoryConnector(mem),
			DLQ:        newQueue(t, t.TempDir(), "worker-0"),
			Blobs:      FixedBlobs(blob.NewMemory()),
			EmbedLimit: 1024,
		})

		if err := w.Flush(ctx, binaryBatch(payload)); err != nil {
			t.Fatalf("Flush() failed: %v", err)
		}
		if _, ok := mem.Docs()[0].Input.(map[string]any)["data"].([]byte); !ok {
			t.Errorf("stored input = %v, want inline payload", mem.Docs()[0].Input)
		}
	})
}

func newMaster(t *testing.T, cfg Config) *Master {
	t.Helper()
	if cfg.DLQBase == "" {
		cfg.DLQBase = t.TempDir()
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = time.Hour
	}
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestNew_RequiresConnector(t *testing.T) {
	if _, err := New(Config{DLQBase: t.TempDir()}); err == nil {
		t.Fatal("New() succeeded without a connector")
	}
}

func TestMaster_AcceptAndFlush(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	m := newMaster(t, Config{Connector: memoryConnector(mem), Size: 2})

	for _, txn := range batch("r1", 5) {
		m.Accept(txn)
	}
	if got := m.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	if got := len(mem.Docs()); got != 5 {
		t.Errorf("stored %d docs, want 5", got)
	}
	if got := m.Len(); got != 0 {
		t.Errorf("Len() after flush = %d, want 0", got)
	}
}

func TestMaster_FlushTimer(t *testing.T) {
	mem := docstore.NewMemory()
	m := newMaster(t, Config{Connector: memoryConnector(mem), FlushInterval: 10 * time.Millisecond})

	m.Accept(batch("r1", 1)[0])

	deadline := time.Now().Add(2 * time.Second)
	for len(mem.Docs()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer flush did not happen")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.SetFlushInterval(time.Hour)
	if got := m.FlushInterval(); got != time.Hour {
		t.Errorf("FlushInterval() = %v, want 1h", got)
	}
}

func TestMaster_IngestFailureSpools(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	m := newMaster(t, Config{Connector: memoryConnector(mem)})

	mem.FailNext(errDown)
	if err := m.Ingest(ctx, batch("r1", 2)); !errors.Is(err, errDown) {
		t.Fatalf("Ingest() error = %v, want %v", err, errDown)
	}
	if n, _ := m.Pending(); n != 1 {
		t.Fatalf("Pending() = %d, want 1", n)
	}

	n, err := m.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("Drain() = %d, want 2", n)
	}
	if n, _ := m.Pending(); n != 0 {
		t.Errorf("Pending() after drain = %d, want 0", n)
	}
}

// blockingStore holds every insert until release is closed.
type blockingStore struct {
	*docstore.Memory
	entered chan struct{}
	release chan struct{}
}

func (s *blockingStore) InsertMany(ctx context.Context, batch []*transaction.Transaction) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.Memory.InsertMany(ctx, batch)
}

func TestMaster_AdmissionTimeoutSpools(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		Memory:  docstore.NewMemory(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	col := testMetrics()
	m := newMaster(t, Config{
		Connector:        func(context.Context) (docstore.Store, error) { return store, nil },
		AdmissionTimeout: 20 * time.Millisecond,
		Metrics:          col,
	})

	var wg sync.WaitGroup
	results := make(chan error, 2)
	ingest := func(b []*transaction.Transaction) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- m.Ingest(ctx, b)
		}()
	}

	// The single worker blocks on the first batch; the second fills the queue.
	ingest(batch("busy", 1))
	<-store.entered
	ingest(batch("queued", 1))

	deadline := time.Now().Add(2 * time.Second)
	for len(m.jobs) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("second batch was never queued")
		}
		time.Sleep(time.Millisecond)
	}

	if err := m.Ingest(ctx, batch("rejected", 3)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Ingest() error = %v, want %v", err, ErrQueueFull)
	}
	if got := queueLen(t, m.Queues()[0]); got != 1 {
		t.Fatalf("overflow entries = %d, want 1", got)
	}

	close(store.release)
	wg.Wait()
	close(results)
	for err := range results {
		if err != nil {
			t.Errorf("Ingest() failed: %v", err)
		}
	}

	n, err := m.Drain(ctx)
	if err != nil {
		t.Fatalf("Drain() failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Drain() = %d, want 3", n)
	}
	if got := len(store.Docs()); got != 5 {
		t.Errorf("stored %d docs, want 5", got)
	}

	expected := `
# HELP test_apm_admission_rejections_total Total number of batches spooled because the worker queue stayed full
# TYPE test_apm_admission_rejections_total counter
test_apm_admission_rejections_total 1
# HELP test_apm_dlq_spooled_total Total number of transactions written to the dead-letter queue
# TYPE test_apm_dlq_spooled_total counter
test_apm_dlq_spooled_total{reason="admission"} 3
`
	if err := testutil.GatherAndCompare(col.Registry(), strings.NewReader(expected),
		"test_apm_admission_rejections_total", "test_apm_dlq_spooled_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestMaster_Close(t *testing.T) {
	ctx := context.Background()
	mem := docstore.NewMemory()
	m, err := New(Config{Connector: memoryConnector(mem), DLQBase: t.TempDir(), FlushInterval: time.Hour})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	for _, txn := range batch("r1", 3) {
		m.Accept(txn)
	}
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := len(mem.Docs()); got != 3 {
		t.Errorf("stored %d docs after Close, want 3", got)
	}

	if err := m.Close(ctx); err != nil {
		t.Errorf("second Close() failed: %v", err)
	}
	if _, err := m.Drain(ctx); !errors.Is(err, ErrMasterClosed) {
		t.Errorf("Drain() error = %v, want %v", err, ErrMasterClosed)
	}
	if err := m.Ingest(ctx, batch("late", 1)); !errors.Is(err, ErrMasterClosed) {
		t.Errorf("Ingest() error = %v, want %v", err, ErrMasterClosed)
	}
	m.Accept(batch("later", 1)[0])

	if n, _ := m.Pending(); n != 2 {
		t.Errorf("Pending() = %d, want 2 spooled after close", n)
	}
}

func TestMaster_AcceptDuringClose(t *testing.T) {
	ctx := context.Background()

	for round := range 10 {
		mem := docstore.NewMemory()
		m, err := New(Config{Connector: memoryConnector(mem), DLQBase: t.TempDir(), FlushInterval: time.Millisecond})
		if err != nil {
			t.Fatalf("New() failed: %v", err)
		}

		var (
			wg       sync.WaitGroup
			accepted atomic.Int64
			started  = make(chan struct{}, 4)
		)
		for g := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 200 {
					m.Accept(transaction.New("orders", "Service", "place", fmt.Sprintf("g%d", g), int64(i)))
					accepted.Add(1)
					if i == 10 {
						started <- struct{}{}
					}
				}
			}()
		}
		for range 4 {
			<-started
		}

		if err := m.Close(ctx); err != nil {
			t.Fatalf("round %d: Close() failed: %v", round, err)
		}
		wg.Wait()

		spooled := 0
		for _, q := range m.Queues() {
			for entry, err := range q.List(ctx) {
				if err != nil {
					t.Fatalf("List() failed: %v", err)
				}
				spooled += len(entry.Transactions)
			}
		}
		if got, want := len(mem.Docs())+spooled, int(accepted.Load()); got != want {
			t.Fatalf("round %d: stored+spooled = %d, want %d accepted (%d still buffered)", round, got, want, m.Len())
		}
	}
}

func TestMaster_DrainSchedule(t *testing.T) {
	mem := docstore.NewMemory()

	if _, err := New(Config{Connector: memoryConnector(mem), DLQBase: t.TempDir(), DrainSchedule: "not a schedule"}); err == nil {
		t.Fatal("New() accepted an invalid drain schedule")
	}

	m := newMaster(t, Config{Connector: memoryConnector(mem), DrainSchedule: "*/5 * * * *"})
	if !m.scheduler.IsRunning() {
		t.Error("scheduler not running")
	}
	if next := m.scheduler.NextRun(); next == nil || !next.After(time.Now()) {
		t.Errorf("NextRun() = %v, want a future time", next)
	}
}

func TestScheduler(t *testing.T) {
	calls := 0
	s := NewScheduler("", func(context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if s.IsRunning() {
		t.Error("scheduler with empty schedule is running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s = NewScheduler("@every 1h", func(context.Context) (int, error) { return 0, nil })
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !s.IsRunning() {
		t.Fatal("scheduler not running")
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for s.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("scheduler did not stop on cancel")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
}

func TestConfigFrom(t *testing.T) {
	cfg := config.NewDefault()
	cfg.Store.Backend = "memory"
	cfg.Deflate.Enabled = true
	cfg.Deflate.Target = "filesystem"
	cfg.Deflate.Filesystem.Path = t.TempDir()
	cfg.DLQ.Codec = "cbor+zstd"
	cfg.Workers.Size = 3

	pc, err := ConfigFrom(cfg, nil)
	if err != nil {
		t.Fatalf("ConfigFrom() failed: %v", err)
	}
	if pc.Size != 3 || pc.Blobs == nil || pc.Connector == nil {
		t.Errorf("ConfigFrom() = %+v", pc)
	}
	if got := pc.DLQSerializer.Name(); got != "cbor+zstd" {
		t.Errorf("DLQ serializer = %q, want cbor+zstd", got)
	}

	cfg.Deflate.Enabled = false
	pc, err = ConfigFrom(cfg, nil)
	if err != nil {
		t.Fatalf("ConfigFrom() failed: %v", err)
	}
	if pc.Blobs != nil {
		t.Error("disabled deflate produced a blob resolver")
	}

	cfg.DLQ.Codec = "xml"
	if _, err := ConfigFrom(cfg, nil); err == nil {
		t.Error("ConfigFrom() accepted an unknown codec")
	}
}
