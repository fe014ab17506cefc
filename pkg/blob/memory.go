package blob

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Hashes registered with Fail are rejected
// by Accept, which makes it useful to exercise degraded paths.
type Memory struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	fail   map[string]error
	writes int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte), fail: make(map[string]error)}
}

// Accept implements Store.
func (m *Memory) Accept(ctx context.Context, blobs map[string][]byte) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stored []string
	var firstErr error
	for _, hash := range sortedKeys(blobs) {
		if err, ok := m.fail[hash]; ok {
			if firstErr == nil {
				firstErr = &Error{Backend: "memory", Hash: hash, Cause: err}
			}
			continue
		}
		if _, ok := m.blobs[hash]; !ok {
			m.blobs[hash] = append([]byte(nil), blobs[hash]...)
			m.writes++
		}
		stored = append(stored, hash)
	}
	return stored, firstErr
}

// Fetch implements Store.
func (m *Memory) Fetch(ctx context.Context, hash string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.blobs[hash]
	if !ok {
		return nil, &Error{Backend: "memory", Hash: hash, Cause: ErrNotFound}
	}
	return data, nil
}

// Fail makes Accept reject hash with err. A nil err clears the rule.
func (m *Memory) Fail(hash string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, hash)
		return
	}
	m.fail[hash] = err
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// Writes returns how many blobs were newly written.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
