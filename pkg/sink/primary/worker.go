package primary

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/groupcache/lru"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/deflate"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/dlq"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// WorkerConfig configures one Worker.
type WorkerConfig struct {
	// ID numbers the worker inside its pool.
	ID int

	// Connector opens the worker's store connection.
	Connector docstore.Connector

	// DLQ is the worker's own dead-letter queue.
	DLQ *dlq.DLQ

	// Shared are extra queues this worker drains but never writes, such as
	// the master's overflow queue.
	Shared []*dlq.DLQ

	// Blobs enables externalization when non-nil.
	Blobs BlobResolver

	// HandleKey marks externalized handles. Default: "__blob".
	HandleKey string

	// EmbedLimit is the largest payload kept inline.
	EmbedLimit int

	// KnownHashes sizes the cache of hashes already stored. Default: 4096.
	KnownHashes int

	// DrainEvery forces a drain every N successful flushes. Default: 60.
	DrainEvery int

	// DrainBatch is the number of records per drain insert. Default: 50.
	DrainBatch int

	// Metrics is optional.
	Metrics *metrics.Collector
}

// Worker owns one store connection and writes batches through it. Failed
// batches are spooled to its dead-letter queue and replayed later.
//
// A Worker serializes its operations; it is safe to call from several
// goroutines but never runs two of them at once.
type Worker struct {
	cfg    WorkerConfig
	logger *slog.Logger

	mu      sync.Mutex
	store   docstore.Store
	blobs   blob.Store
	known   *lru.Cache
	flushes int

	// dirty is set when a queue this worker drains may hold entries.
	dirty atomic.Bool
}

// NewWorker creates a worker. No connection is opened until the first
// operation. Entries left in the worker's queues by a previous run are
// drained after the first successful flush.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.HandleKey == "" {
		cfg.HandleKey = deflate.DefaultHandleKey
	}
	if cfg.KnownHashes <= 0 {
		cfg.KnownHashes = 4096
	}
	if cfg.DrainEvery <= 0 {
		cfg.DrainEvery = 60
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = 50
	}

	w := &Worker{
		cfg:    cfg,
		logger: slog.Default().With("component", "apm.worker", "worker", cfg.ID),
		known:  lru.New(cfg.KnownHashes),
	}

	for _, q := range w.queues() {
		if n, err := q.Len(); err == nil && n > 0 {
			w.dirty.Store(true)
			break
		}
	}

	return w
}

// ID returns the worker number.
func (w *Worker) ID() int {
	return w.cfg.ID
}

// Flush persists batch. On failure the original batch is spooled to the
// worker's queue, the connection is dropped and the error returned; there
// is no in-process retry.
func (w *Worker) Flush(ctx context.Context, batch []*transaction.Transaction) error {
	if len(batch) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	store, err := w.connect(ctx)
	if err == nil {
		err = w.insert(ctx, store, batch)
	}
	if err != nil {
		w.cfg.Metrics.RecordFlush(metrics.ResultError, len(batch), time.Since(start))
		w.fail(ctx, batch, err)
		return err
	}
	w.cfg.Metrics.RecordFlush(metrics.ResultOK, len(batch), time.Since(start))

	w.flushes++
	if _, err := w.processDLQ(ctx, w.flushes%w.cfg.DrainEvery == 0); err != nil {
		w.logger.Warn("dead-letter drain failed", "error", err)
		w.reset(ctx)
	}
	return nil
}

// ProcessDLQ replays spooled batches into the store and returns the number
// of Transactions written. Without force it does nothing unless this
// worker spooled something since its last complete drain.
//
// Records are inserted in groups of at least DrainBatch, and the files of
// a group are pruned only after that insert succeeds. The first failed
// insert stops the drain and leaves the remaining entries in place.
func (w *Worker) ProcessDLQ(ctx context.Context, force bool) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.processDLQ(ctx, force)
	if err != nil {
		w.reset(ctx)
	}
	return n, err
}

// MarkDirty makes the next flush drain the worker's queues.
func (w *Worker) MarkDirty() {
	w.dirty.Store(true)
}

// Close drops the store connection.
func (w *Worker) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.store == nil {
		return nil
	}
	err := w.store.Close(ctx)
	w.store, w.blobs = nil, nil
	return err
}

func (w *Worker) queues() []*dlq.DLQ {
	qs := make([]*dlq.DLQ, 0, 1+len(w.cfg.Shared))
	if w.cfg.DLQ != nil {
		qs = append(qs, w.cfg.DLQ)
	}
	return append(qs, w.cfg.Shared...)
}

func (w *Worker) connect(ctx context.Context) (docstore.Store, error) {
	if w.store != nil {
		return w.store, nil
	}
	store, err := w.cfg.Connector(ctx)
	if err != nil {
		return nil, err
	}
	w.store = store
	w.logger.Debug("store connected")
	return store, nil
}

// reset drops the connection so the next operation reconnects.
func (w *Worker) reset(ctx context.Context) {
	if w.store == nil {
		return
	}
	if err := w.store.Close(ctx); err != nil {
		w.logger.Warn("store close failed", "error", err)
	}
	w.store, w.blobs = nil, nil
	w.cfg.Metrics.RecordReconnect(w.cfg.ID)
}

func (w *Worker) fail(ctx context.Context, batch []*transaction.Transaction, cause error) {
	w.logger.Warn("flush failed, spooling batch", "count", len(batch), "error", cause)

	if w.cfg.DLQ == nil {
		w.logger.Error("no dead-letter queue, batch lost", "count", len(batch))
	} else if err := w.cfg.DLQ.Accept(batch...); err != nil {
		w.logger.Error("dead-letter spool failed, batch lost", "count", len(batch), "error", err)
	} else {
		w.cfg.Metrics.RecordSpooled(metrics.SpoolFlush, len(batch))
		w.dirty.Store(true)
	}
	w.reset(ctx)
}

// insert externalizes batch when configured and writes it.
func (w *Worker) insert(ctx context.Context, store docstore.Store, batch []*transaction.Transaction) error {
	docs := batch
	if w.cfg.Blobs != nil {
		trap := make(map[string][]byte)
		docs = deflate.Transactions(batch, w.cfg.HandleKey, trap, w.cfg.EmbedLimit)
		if len(trap) > 0 {
			w.writeBlobs(ctx, store, docs, trap)
		}
	}
	return store.InsertMany(ctx, docs)
}

// writeBlobs stores trap, skipping hashes known to be stored. Blobs the
// store does not take are embedded back into docs.
func (w *Worker) writeBlobs(ctx context.Context, store docstore.Store, docs []*transaction.Transaction, trap map[string][]byte) {
	pending := make(map[string][]byte, len(trap))
	for hash, data := range trap {
		_, hit := w.known.Get(hash)
		w.cfg.Metrics.RecordKnownHash(hit)
		if !hit {
			pending[hash] = data
		}
	}
	w.cfg.Metrics.RecordBlobWrites(metrics.BlobSkipped, len(trap)-len(pending))
	if len(pending) == 0 {
		return
	}

	var stored []string
	bs, err := w.blobStore(ctx, store)
	if err == nil {
		stored, err = bs.Accept(ctx, pending)
	}
	for _, hash := range stored {
		w.known.Add(hash, struct{}{})
		delete(pending, hash)
	}
	w.cfg.Metrics.RecordBlobWrites(metrics.BlobStored, len(stored))

	if len(pending) > 0 {
		w.logger.Warn("blob write failed, embedding payloads", "count", len(pending), "error", err)
		w.cfg.Metrics.RecordBlobWrites(metrics.BlobFailed, len(pending))
		w.cfg.Metrics.RecordEmbedFallback()
		deflate.EmbedTransactions(docs, w.cfg.HandleKey, pending)
	}
}

func (w *Worker) blobStore(ctx context.Context, store docstore.Store) (blob.Store, error) {
	if w.blobs != nil {
		return w.blobs, nil
	}
	bs, err := w.cfg.Blobs(ctx, store)
	if err != nil {
		return nil, err
	}
	w.blobs = bs
	return bs, nil
}

func (w *Worker) processDLQ(ctx context.Context, force bool) (int, error) {
	if !force && !w.dirty.Load() {
		return 0, nil
	}

	store, err := w.connect(ctx)
	if err != nil {
		return 0, err
	}

	// Cleared before the scan so a MarkDirty racing with it survives.
	w.dirty.Store(false)

	total := 0
	for _, q := range w.queues() {
		n, err := w.drain(ctx, store, q)
		total += n
		if err != nil {
			w.dirty.Store(true)
			w.cfg.Metrics.RecordDrainError()
			return total, err
		}
	}

	if w.cfg.DLQ != nil {
		if n, err := w.cfg.DLQ.Len(); err == nil {
			w.cfg.Metrics.SetDLQPending(w.cfg.ID, n)
		}
	}
	if total > 0 {
		w.logger.Info("dead-letter queue drained", "count", total)
	}
	return total, nil
}

func (w *Worker) drain(ctx context.Context, store docstore.Store, q *dlq.DLQ) (int, error) {
	var (
		files   []string
		pending []*transaction.Transaction
		total   int
	)

	flush := func() error {
		if len(files) == 0 {
			return nil
		}
		if len(pending) > 0 {
			if err := w.insert(ctx, store, pending); err != nil {
				return err
			}
		}
		if err := q.Prune(files...); err != nil {
			w.logger.Warn("dead-letter prune failed, entries may be replayed", "error", err)
		}
		w.cfg.Metrics.RecordDrained(len(pending))
		total += len(pending)
		files, pending = nil, nil
		return nil
	}

	for entry, err := range q.List(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return total, err
			}
			w.logger.Warn("skipping unreadable dead-letter entry", "file", entry.File, "error", err)
			continue
		}
		files = append(files, entry.File)
		pending = append(pending, entry.Transactions...)
		if len(pending) >= w.cfg.DrainBatch {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}

	return total, flush()
}
