package metrics

import (
	"github.com/nextcodebr/nxcd-apm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DLQMetrics tracks the local dead-letter queue.
type DLQMetrics struct {
	spooled     *prometheus.CounterVec
	drained     prometheus.Counter
	drainErrors prometheus.Counter
	pending     *prometheus.GaugeVec
}

// NewDLQMetrics creates and registers dead-letter metrics with the provided registry.
func NewDLQMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DLQMetrics {
	dm := &DLQMetrics{
		spooled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dlq_spooled_total",
				Help:      "Total number of transactions written to the dead-letter queue",
			},
			[]string{"reason"},
		),
		drained: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dlq_drained_total",
				Help:      "Total number of dead-letter transactions inserted into the primary store",
			},
		),
		drainErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dlq_drain_errors_total",
				Help:      "Total number of drain passes stopped by an error",
			},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dlq_pending_files",
				Help:      "Number of dead-letter files waiting to be drained",
			},
			[]string{"worker"},
		),
	}

	registry.MustRegister(dm.spooled, dm.drained, dm.drainErrors, dm.pending)

	return dm
}
