package metrics

import (
	"github.com/nextcodebr/nxcd-apm/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// BlobMetrics tracks payload externalization.
//
// Metrics:
//   - nxcd_apm_blob_writes_total: blobs by result (stored, skipped, failed)
//   - nxcd_apm_blob_known_hash_hits_total: writes avoided by the hash cache
//   - nxcd_apm_blob_known_hash_misses_total: hashes not in the cache
//   - nxcd_apm_blob_embed_fallbacks_total: batches stored with inline payloads
type BlobMetrics struct {
	writes         *prometheus.CounterVec
	knownHits      prometheus.Counter
	knownMisses    prometheus.Counter
	embedFallbacks prometheus.Counter
}

// NewBlobMetrics creates and registers blob metrics with the provided registry.
func NewBlobMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *BlobMetrics {
	bm := &BlobMetrics{
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "blob_writes_total",
				Help:      "Total number of blobs handed to the blob store by result",
			},
			[]string{"result"},
		),
		knownHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "blob_known_hash_hits_total",
				Help:      "Total number of blob writes skipped because the hash was already stored",
			},
		),
		knownMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "blob_known_hash_misses_total",
				Help:      "Total number of blob hashes not found in the known-hash cache",
			},
		),
		embedFallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "blob_embed_fallbacks_total",
				Help:      "Total number of batches stored with inline payloads after a blob store failure",
			},
		),
	}

	registry.MustRegister(bm.writes, bm.knownHits, bm.knownMisses, bm.embedFallbacks)

	return bm
}
