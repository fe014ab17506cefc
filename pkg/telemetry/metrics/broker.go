package metrics

import (
	"github.com/nextcodebr/nxcd-apm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics tracks the broker proxy and bridge.
type BrokerMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
}

// NewBrokerMetrics creates and registers broker metrics with the provided registry.
func NewBrokerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BrokerMetrics {
	bm := &BrokerMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "broker_requests_total",
				Help:      "Total number of broker batch requests by role and result",
			},
			[]string{"role", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "broker_request_duration_seconds",
				Help:      "Duration of broker batch requests in seconds",
				Buckets:   cfg.FlushDurationBuckets,
			},
			[]string{"role"},
		),
		dropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "proxy_dropped_total",
				Help:      "Total number of transactions a proxy could neither deliver nor spool",
			},
		),
	}

	registry.MustRegister(bm.requests, bm.duration, bm.dropped)

	return bm
}
