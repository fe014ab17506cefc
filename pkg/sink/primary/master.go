package primary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/codec"
	"github.com/nextcodebr/nxcd-apm/pkg/config"
	"github.com/nextcodebr/nxcd-apm/pkg/docstore"
	"github.com/nextcodebr/nxcd-apm/pkg/sink"
	"github.com/nextcodebr/nxcd-apm/pkg/sink/dlq"
	"github.com/nextcodebr/nxcd-apm/pkg/telemetry/metrics"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// OverflowPrefix is the queue namespace of batches no worker admitted.
const OverflowPrefix = "overflow"

// Config contains configuration for the primary-store sink.
type Config struct {
	// Connector opens store connections, one per worker.
	Connector docstore.Connector

	// Blobs enables payload externalization when non-nil.
	Blobs BlobResolver

	// HandleKey marks externalized handles.
	// Default: "__blob"
	HandleKey string

	// EmbedLimit is the largest payload, in bytes, kept inline.
	// Default: 1024
	EmbedLimit int

	// KnownHashes sizes each worker's cache of hashes already written.
	// Default: 4096
	KnownHashes int

	// Size is the number of workers.
	// Default: 1
	Size int

	// MaxQueued bounds the batches waiting for a worker.
	// Default: 1
	MaxQueued int

	// AdmissionTimeout is how long a batch waits for queue space.
	// Default: 5 seconds
	AdmissionTimeout time.Duration

	// FlushInterval is the buffering timer period.
	// Default: 1 second
	FlushInterval time.Duration

	// DrainEvery forces a drain every N successful flushes of a worker.
	// Default: 60
	DrainEvery int

	// DrainBatch is the number of records per drain insert.
	// Default: 50
	DrainBatch int

	// DrainSchedule optionally requests a drain of every worker on a cron
	// schedule.
	DrainSchedule string

	// DLQBase is the dead-letter root directory.
	DLQBase string

	// DLQSerializer encodes spooled batches.
	// Default: codec.JSON
	DLQSerializer codec.Serializer

	// Metrics is optional.
	Metrics *metrics.Collector
}

// DefaultConfig returns the default sink configuration. Connector must
// still be set.
func DefaultConfig() Config {
	return Config{
		HandleKey:        config.DefaultDeflateHandleKey,
		EmbedLimit:       config.DefaultDeflateEmbedLimit,
		KnownHashes:      config.DefaultDeflateKnownHashes,
		Size:             config.DefaultWorkersSize,
		MaxQueued:        config.DefaultWorkersMaxQueued,
		AdmissionTimeout: config.DefaultWorkersAdmissionTimeout,
		FlushInterval:    config.DefaultFlushInterval,
		DrainEvery:       config.DefaultWorkersDrainEvery,
		DrainBatch:       config.DefaultWorkersDrainBatch,
		DLQBase:          config.DefaultDLQPath,
		DLQSerializer:    codec.JSON,
	}
}

// ConfigFrom builds the sink configuration from the agent configuration.
func ConfigFrom(cfg *config.Config, m *metrics.Collector) (Config, error) {
	connector, err := docstore.NewConnector(docstore.Config{
		Backend:          cfg.Store.Backend,
		URL:              cfg.Store.URL,
		Database:         cfg.Store.Database,
		Collection:       cfg.Store.Collection,
		BlobCollection:   cfg.Store.BlobCollection,
		ConnectTimeout:   cfg.Store.ConnectTimeout,
		OperationTimeout: cfg.Store.OperationTimeout,
	})
	if err != nil {
		return Config{}, err
	}

	blobs, err := NewBlobResolver(cfg.Deflate)
	if err != nil {
		return Config{}, err
	}

	serializer, err := codec.Lookup(cfg.DLQ.Codec)
	if err != nil {
		return Config{}, fmt.Errorf("dlq codec: %w", err)
	}

	return Config{
		Connector:        connector,
		Blobs:            blobs,
		HandleKey:        cfg.Deflate.HandleKey,
		EmbedLimit:       cfg.Deflate.EmbedLimit,
		KnownHashes:      cfg.Deflate.KnownHashes,
		Size:             cfg.Workers.Size,
		MaxQueued:        cfg.Workers.MaxQueued,
		AdmissionTimeout: cfg.Workers.AdmissionTimeout,
		FlushInterval:    cfg.Flush.Interval,
		DrainEvery:       cfg.Workers.DrainEvery,
		DrainBatch:       cfg.Workers.DrainBatch,
		DrainSchedule:    cfg.Workers.DrainSchedule,
		DLQBase:          cfg.DLQ.Path,
		DLQSerializer:    serializer,
		Metrics:          m,
	}, nil
}

type job struct {
	ctx   context.Context
	batch []*transaction.Transaction
	done  chan error
}

type drainResult struct {
	n   int
	err error
}

type drainRequest struct {
	ctx  context.Context
	done chan drainResult
}

// Master is the primary-store sink. Completed Transactions are buffered and
// flushed on a timer into a bounded queue served by a pool of Workers.
//
// A batch that finds no room in the queue within the admission timeout is
// spooled to the overflow dead-letter queue, never dropped. The first
// worker drains that queue along with its own.
type Master struct {
	cfg    Config
	logger *slog.Logger

	buffer    *sink.Buffering[*transaction.Transaction]
	flusher   *sink.Flusher
	scheduler *Scheduler
	cancel    context.CancelFunc

	workers  []*Worker
	overflow *dlq.DLQ
	jobs     chan job
	controls []chan drainRequest
	wg       sync.WaitGroup

	// closing stops Accept from buffering; closed stops Ingest and Drain.
	mu      sync.RWMutex
	closing bool
	closed  bool
}

var (
	_ sink.Sink[*transaction.Transaction]    = (*Master)(nil)
	_ sink.Batcher[*transaction.Transaction] = (*Master)(nil)
)

// New creates the sink, starts its workers and its flush timer.
func New(cfg Config) (*Master, error) {
	if cfg.Connector == nil {
		return nil, errors.New("primary sink requires a store connector")
	}
	def := DefaultConfig()
	if cfg.Size <= 0 {
		cfg.Size = def.Size
	}
	if cfg.MaxQueued <= 0 {
		cfg.MaxQueued = def.MaxQueued
	}
	if cfg.AdmissionTimeout <= 0 {
		cfg.AdmissionTimeout = def.AdmissionTimeout
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.DLQBase == "" {
		cfg.DLQBase = def.DLQBase
	}
	if cfg.DLQSerializer == nil {
		cfg.DLQSerializer = def.DLQSerializer
	}

	overflow, err := dlq.New(dlq.Config{Base: cfg.DLQBase, Prefix: OverflowPrefix, Serializer: cfg.DLQSerializer})
	if err != nil {
		return nil, err
	}

	m := &Master{
		cfg:      cfg,
		logger:   slog.Default().With("component", "apm.primary"),
		overflow: overflow,
		jobs:     make(chan job, cfg.MaxQueued),
	}

	for i := range cfg.Size {
		q, err := dlq.New(dlq.Config{Base: cfg.DLQBase, Prefix: fmt.Sprintf("worker-%d", i), Serializer: cfg.DLQSerializer})
		if err != nil {
			return nil, err
		}
		wc := WorkerConfig{
			ID:          i,
			Connector:   cfg.Connector,
			DLQ:         q,
			Blobs:       cfg.Blobs,
			HandleKey:   cfg.HandleKey,
			EmbedLimit:  cfg.EmbedLimit,
			KnownHashes: cfg.KnownHashes,
			DrainEvery:  cfg.DrainEvery,
			DrainBatch:  cfg.DrainBatch,
			Metrics:     cfg.Metrics,
		}
		if i == 0 {
			wc.Shared = []*dlq.DLQ{overflow}
		}
		m.workers = append(m.workers, NewWorker(wc))
		m.controls = append(m.controls, make(chan drainRequest))
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if cfg.DrainSchedule != "" {
		m.scheduler = NewScheduler(cfg.DrainSchedule, m.Drain)
		if err := m.scheduler.Start(ctx); err != nil {
			cancel()
			return nil, err
		}
	}

	for i, w := range m.workers {
		m.wg.Add(1)
		go m.run(w, m.controls[i])
	}

	m.buffer = sink.NewBuffering(m.Ingest)
	m.flusher = sink.StartFlusher(m.buffer.Flush, cfg.FlushInterval, m.logger)

	m.logger.Info("primary sink started",
		"workers", cfg.Size,
		"max_queued", cfg.MaxQueued,
		"flush_interval", cfg.FlushInterval,
		"dlq", cfg.DLQBase,
	)
	return m, nil
}

// Accept buffers a completed Transaction. After Close it is spooled
// straight to the overflow queue.
func (m *Master) Accept(txn *transaction.Transaction) {
	m.cfg.Metrics.RecordAccepted(string(txn.Status))

	m.mu.RLock()
	if m.closing {
		m.mu.RUnlock()
		m.spool([]*transaction.Transaction{txn}, metrics.SpoolAdmission)
		return
	}
	m.buffer.Accept(txn)
	m.mu.RUnlock()
}

// Len returns the number of buffered Transactions.
func (m *Master) Len() int {
	return m.buffer.Len()
}

// Flush hands the buffered Transactions to the worker pool.
func (m *Master) Flush(ctx context.Context) error {
	return m.buffer.Flush(ctx)
}

// Ingest queues batch for a worker and waits for its result. When the
// queue stays full past the admission timeout the batch is spooled and
// ErrQueueFull returned. A worker failure has already spooled the batch
// when its error is returned.
func (m *Master) Ingest(ctx context.Context, batch []*transaction.Transaction) error {
	if len(batch) == 0 {
		return nil
	}

	j := job{ctx: ctx, batch: batch, done: make(chan error, 1)}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		m.spool(batch, metrics.SpoolAdmission)
		return ErrMasterClosed
	}

	timer := time.NewTimer(m.cfg.AdmissionTimeout)
	select {
	case m.jobs <- j:
		timer.Stop()
		m.cfg.Metrics.SetQueueDepth(len(m.jobs))
		m.mu.RUnlock()

	case <-timer.C:
		m.mu.RUnlock()
		m.cfg.Metrics.RecordAdmissionRejected()
		m.logger.Warn("worker queue full, spooling batch", "count", len(batch), "timeout", m.cfg.AdmissionTimeout)
		m.spool(batch, metrics.SpoolAdmission)
		return ErrQueueFull

	case <-ctx.Done():
		timer.Stop()
		m.mu.RUnlock()
		m.spool(batch, metrics.SpoolAdmission)
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain forces a dead-letter drain on every worker and returns the number
// of Transactions written.
func (m *Master) Drain(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrMasterClosed
	}

	pending := make([]chan drainResult, 0, len(m.controls))
	for _, ctl := range m.controls {
		req := drainRequest{ctx: ctx, done: make(chan drainResult, 1)}
		select {
		case ctl <- req:
			pending = append(pending, req.done)
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	var (
		total int
		errs  []error
	)
	for _, done := range pending {
		select {
		case r := <-done:
			total += r.n
			if r.err != nil {
				errs = append(errs, r.err)
			}
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
	return total, errors.Join(errs...)
}

// Queues returns the dead-letter queues of the sink, overflow first.
func (m *Master) Queues() []*dlq.DLQ {
	qs := []*dlq.DLQ{m.overflow}
	for _, w := range m.workers {
		qs = append(qs, w.cfg.DLQ)
	}
	return qs
}

// Pending returns the number of dead-letter entries across all queues.
func (m *Master) Pending() (int, error) {
	total := 0
	for _, q := range m.Queues() {
		n, err := q.Len()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// SetFlushInterval restarts the flush timer with a new period.
func (m *Master) SetFlushInterval(d time.Duration) {
	m.flusher.Reset(d)
}

// FlushInterval returns the flush timer period.
func (m *Master) FlushInterval() time.Duration {
	return m.flusher.Interval()
}

// Close stops the timers, flushes what is buffered and waits for the
// workers to finish the queued batches. Transactions accepted from then on
// are spooled to the overflow queue. Batches still queued when ctx
// expires are processed in the background; their failures are spooled.
func (m *Master) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil
	}
	m.closing = true
	m.mu.Unlock()

	m.cancel()
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
	m.flusher.Stop()

	flushErr := m.buffer.Flush(ctx)

	m.mu.Lock()
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()

	if rest := m.buffer.Drain(); len(rest) > 0 {
		m.spool(rest, metrics.SpoolAdmission)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(flushErr, ctx.Err())
	}

	errs := []error{flushErr}
	for _, w := range m.workers {
		errs = append(errs, w.Close(ctx))
	}
	m.logger.Info("primary sink closed")
	return errors.Join(errs...)
}

func (m *Master) run(w *Worker, control chan drainRequest) {
	defer m.wg.Done()

	for {
		select {
		case j, ok := <-m.jobs:
			if !ok {
				return
			}
			m.cfg.Metrics.SetQueueDepth(len(m.jobs))
			j.done <- w.Flush(context.WithoutCancel(j.ctx), j.batch)

		case req := <-control:
			n, err := w.ProcessDLQ(req.ctx, true)
			req.done <- drainResult{n: n, err: err}
		}
	}
}

func (m *Master) spool(batch []*transaction.Transaction, reason string) {
	if err := m.overflow.Accept(batch...); err != nil {
		m.logger.Error("overflow spool failed, batch lost", "count", len(batch), "error", err)
		return
	}
	m.cfg.Metrics.RecordSpooled(reason, len(batch))
	m.workers[0].MarkDirty()
}
