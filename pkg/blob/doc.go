// Package blob provides content-addressed stores for externalized binary
// payloads.
//
// Every blob is keyed by the lowercase hex SHA-256 digest of its bytes, so
// identical content is stored once no matter how many Transactions carry
// it. Stores expose a partial-success contract: Accept returns the hashes
// that are durably present after the call (already stored or newly
// written) and reports an error only alongside the hashes it could not
// store.
//
// # Variants
//
//   - FS: one file per blob in a directory
//   - SQLite: a table in the primary SQLite database
//   - Mongo: a collection of {key, buffer} documents
//   - ObjectStore: an S3-compatible bucket (MinIO client)
//   - Redis: base64 values with an optional TTL
//   - Memory: in-process map, for tests
package blob
