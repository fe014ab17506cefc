package metrics

import (
	"strconv"
	"time"

	"github.com/nextcodebr/nxcd-apm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Label values shared by the Record methods.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSpooled = "spooled"
	ResultTimeout = "timeout"

	BlobStored  = "stored"
	BlobSkipped = "skipped"
	BlobFailed  = "failed"

	SpoolAdmission = "admission"
	SpoolFlush     = "flush"
	SpoolBroker    = "broker"

	RoleProxy  = "proxy"
	RoleBridge = "bridge"
)

// Collector owns every Prometheus metric of the transaction pipeline.
//
// All Record and Set methods are safe on a nil *Collector and do nothing
// when metrics are disabled, so components can hold an optional collector
// without guarding each call.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	pipeline *PipelineMetrics
	dlq      *DLQMetrics
	blobs    *BlobMetrics
	broker   *BrokerMetrics
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is created.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "nxcd",
//		Subsystem: "apm",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.FlushDurationBuckets) == 0 {
		cfg.FlushDurationBuckets = append([]float64(nil), config.DefaultFlushDurationBuckets...)
	}

	return &Collector{
		config:   cfg,
		registry: registry,
		pipeline: NewPipelineMetrics(cfg, registry),
		dlq:      NewDLQMetrics(cfg, registry),
		blobs:    NewBlobMetrics(cfg, registry),
		broker:   NewBrokerMetrics(cfg, registry),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// RecordAccepted counts a completed Transaction handed to a sink.
//
// Parameters:
//   - status: Transaction status ("success", "error")
func (c *Collector) RecordAccepted(status string) {
	if !c.enabled() {
		return
	}
	c.pipeline.accepted.WithLabelValues(status).Inc()
}

// RecordFlush records one batch insert into the primary store.
//
// Parameters:
//   - result: ResultOK, ResultError or ResultSpooled
//   - size: number of Transactions in the batch
//   - duration: time spent in the insert
func (c *Collector) RecordFlush(result string, size int, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.pipeline.flushes.WithLabelValues(result).Inc()
	c.pipeline.flushDuration.WithLabelValues(result).Observe(duration.Seconds())
	c.pipeline.batchSize.Observe(float64(size))
}

// RecordAdmissionRejected counts a batch that found the worker queue full
// until the admission timeout.
func (c *Collector) RecordAdmissionRejected() {
	if !c.enabled() {
		return
	}
	c.pipeline.admissionRejections.Inc()
}

// SetQueueDepth reports the number of batches waiting for a worker.
func (c *Collector) SetQueueDepth(n int) {
	if !c.enabled() {
		return
	}
	c.pipeline.queueDepth.Set(float64(n))
}

// RecordReconnect counts a worker dropping its connection after a failure.
func (c *Collector) RecordReconnect(worker int) {
	if !c.enabled() {
		return
	}
	c.pipeline.reconnects.WithLabelValues(strconv.Itoa(worker)).Inc()
}

// RecordSpooled counts Transactions written to the dead-letter queue.
//
// Parameters:
//   - reason: SpoolAdmission, SpoolFlush or SpoolBroker
//   - n: number of Transactions
func (c *Collector) RecordSpooled(reason string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.dlq.spooled.WithLabelValues(reason).Add(float64(n))
}

// RecordDrained counts Transactions moved from the dead-letter queue into
// the primary store.
func (c *Collector) RecordDrained(n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.dlq.drained.Add(float64(n))
}

// RecordDrainError counts a drain pass that stopped on an error.
func (c *Collector) RecordDrainError() {
	if !c.enabled() {
		return
	}
	c.dlq.drainErrors.Inc()
}

// SetDLQPending reports the number of dead-letter files of one worker.
func (c *Collector) SetDLQPending(worker, files int) {
	if !c.enabled() {
		return
	}
	c.dlq.pending.WithLabelValues(strconv.Itoa(worker)).Set(float64(files))
}

// RecordBlobWrites counts blobs by outcome.
//
// Parameters:
//   - result: BlobStored, BlobSkipped or BlobFailed
//   - n: number of blobs
func (c *Collector) RecordBlobWrites(result string, n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.blobs.writes.WithLabelValues(result).Add(float64(n))
}

// RecordKnownHash records a lookup in a worker's cache of written hashes.
func (c *Collector) RecordKnownHash(hit bool) {
	if !c.enabled() {
		return
	}
	if hit {
		c.blobs.knownHits.Inc()
	} else {
		c.blobs.knownMisses.Inc()
	}
}

// RecordEmbedFallback counts a batch whose blobs were embedded back because
// the blob store rejected them.
func (c *Collector) RecordEmbedFallback() {
	if !c.enabled() {
		return
	}
	c.blobs.embedFallbacks.Inc()
}

// RecordBrokerRequest records one broker round trip.
//
// Parameters:
//   - role: RoleProxy or RoleBridge
//   - result: ResultOK, ResultError or ResultTimeout
//   - duration: round trip or handling time
func (c *Collector) RecordBrokerRequest(role, result string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.broker.requests.WithLabelValues(role, result).Inc()
	c.broker.duration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordProxyDropped counts Transactions a proxy could neither deliver nor
// spool.
func (c *Collector) RecordProxyDropped(n int) {
	if !c.enabled() || n <= 0 {
		return
	}
	c.broker.dropped.Add(float64(n))
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
