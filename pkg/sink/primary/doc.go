// Package primary implements the sink that owns the primary store.
//
// A Master buffers completed Transactions and flushes them on a timer into
// a bounded queue. Each Worker behind the queue keeps one lazily opened
// store connection, externalizes binary payloads into a blob store when
// configured, and owns a dead-letter directory. A batch that cannot be
// written is spooled to that directory and replayed once the store is
// reachable again:
//
//	cfg := primary.DefaultConfig()
//	cfg.Connector = connector
//	m, err := primary.New(cfg)
//	if err != nil {
//		return err
//	}
//	defer m.Close(ctx)
//	transaction.Default().Use(m)
//
// Batches are never dropped on the way to the store. When the queue stays
// full past the admission timeout the batch goes to the overflow queue,
// which the first worker drains with its own.
package primary
