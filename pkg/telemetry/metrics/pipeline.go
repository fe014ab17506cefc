package metrics

import (
	"github.com/nextcodebr/nxcd-apm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics tracks Transactions from sink acceptance to the store.
//
// Metrics:
//   - nxcd_apm_transactions_accepted_total: Transactions accepted by status
//   - nxcd_apm_flushes_total: batch inserts by result
//   - nxcd_apm_flush_duration_seconds: batch insert duration
//   - nxcd_apm_flush_batch_size: Transactions per batch
//   - nxcd_apm_admission_rejections_total: batches refused by a full queue
//   - nxcd_apm_queue_depth: batches waiting for a worker
//   - nxcd_apm_worker_reconnects_total: connection resets by worker
type PipelineMetrics struct {
	accepted            *prometheus.CounterVec
	flushes             *prometheus.CounterVec
	flushDuration       *prometheus.HistogramVec
	batchSize           prometheus.Histogram
	admissionRejections prometheus.Counter
	queueDepth          prometheus.Gauge
	reconnects          *prometheus.CounterVec
}

// NewPipelineMetrics creates and registers pipeline metrics with the provided registry.
func NewPipelineMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PipelineMetrics {
	pm := &PipelineMetrics{
		accepted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "transactions_accepted_total",
				Help:      "Total number of completed transactions accepted by a sink",
			},
			[]string{"status"},
		),

		flushes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "flushes_total",
				Help:      "Total number of batch inserts into the primary store",
			},
			[]string{"result"},
		),

		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "flush_duration_seconds",
				Help:      "Duration of batch inserts in seconds",
				Buckets:   cfg.FlushDurationBuckets,
			},
			[]string{"result"},
		),

		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "flush_batch_size",
				Help:      "Number of transactions per batch insert",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		admissionRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "admission_rejections_total",
				Help:      "Total number of batches spooled because the worker queue stayed full",
			},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "queue_depth",
				Help:      "Number of batches waiting for a worker",
			},
		),

		reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "worker_reconnects_total",
				Help:      "Total number of store connections dropped after a failure",
			},
			[]string{"worker"},
		),
	}

	registry.MustRegister(
		pm.accepted,
		pm.flushes,
		pm.flushDuration,
		pm.batchSize,
		pm.admissionRejections,
		pm.queueDepth,
		pm.reconnects,
	)

	return pm
}
