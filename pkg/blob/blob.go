package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrNotFound is returned by Fetch when no blob has the requested hash.
var ErrNotFound = errors.New("blob not found")

// Store is a content-addressed blob store.
type Store interface {
	// Accept stores blobs keyed by hash and returns the hashes that are
	// present in the store after the call.
	Accept(ctx context.Context, blobs map[string][]byte) ([]string, error)
	// Fetch returns the bytes stored under hash.
	Fetch(ctx context.Context, hash string) ([]byte, error)
}

// Error is a failure of a single blob operation.
type Error struct {
	Backend string
	Hash    string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Hash == "" {
		return fmt.Sprintf("blob error [backend=%s]: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("blob error [backend=%s, hash=%s]: %v", e.Backend, e.Hash, e.Cause)
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Hash returns the content address of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// sortedKeys gives stores a deterministic write order.
func sortedKeys(blobs map[string][]byte) []string {
	return slices.Sorted(maps.Keys(blobs))
}
