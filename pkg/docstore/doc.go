// Package docstore is the primary store Transactions are persisted to.
//
// A Store inserts one batch per call. Backends:
//
//   - sqlite: embedded database through github.com/mattn/go-sqlite3 (cgo)
//   - sqlite-pure: the same schema through modernc.org/sqlite (no cgo)
//   - mongo: a MongoDB collection addressed by URL, database and collection
//   - memory: in-process store with failure injection, for tests
//
// Stores that can also hold externalized blobs in the same database
// implement BlobProvider.
package docstore
