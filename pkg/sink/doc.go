// Package sink defines the consumers of completed telemetry items.
//
// A Sink accepts one item at a time and must never block the caller for
// long: it is invoked on the completion path of an instrumented call.
// Buffering sinks accumulate items in memory and hand them off in batches
// through Flush, which uses swap-and-drain so that items accepted while a
// batch is being ingested are kept for the next flush.
//
// # Variants
//
//   - BlackHole: discards everything; the default before a real sink is installed
//   - Func: adapts a plain function
//   - Buffering: the in-memory batching base used by concrete sinks
//   - Memory: records items for inspection (tests, debugging)
//
// Concrete sinks live in subpackages: primary (worker-pool backed store
// writer with dead-letter recovery) and broker (proxy/bridge over a
// message broker).
//
// # Flushing
//
// Flusher runs a recurring flush loop for any buffering sink:
//
//	buf := sink.NewBuffering[*transaction.Transaction](ingest)
//	flusher := sink.StartFlusher(buf.Flush, time.Second, logger)
//	defer flusher.Stop()
package sink
