// Package metrics provides Prometheus metrics for the transaction pipeline.
//
// # Metrics Categories
//
//   - Pipeline Metrics: accepted Transactions, batch inserts, admission
//     rejections, queue depth and worker reconnects
//   - DLQ Metrics: spooled, drained and pending dead-letter records
//   - Blob Metrics: blob writes, known-hash cache lookups and embed fallbacks
//   - Broker Metrics: proxy and bridge requests and dropped batches
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordFlush(metrics.ResultOK, 50, 12*time.Millisecond)
//
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// A nil *Collector is valid and records nothing.
package metrics
