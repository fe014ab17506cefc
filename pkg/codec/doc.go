// Package codec provides the serializers used to put Transactions on disk
// and on the wire.
//
// Two encodings are available: JSON (encoding/json, the default for
// interoperability with document stores and other agents) and CBOR
// (Core Deterministic Encoding, which keeps byte strings binary instead of
// base64-encoding them). Either can be wrapped with block compression
// (zstd or lz4) through Compressed.
//
// Serializers are safe for concurrent use.
package codec
