package docstore

import (
	"context"
	"sync"

	"github.com/nextcodebr/nxcd-apm/pkg/blob"
	"github.com/nextcodebr/nxcd-apm/pkg/transaction"
)

// Memory keeps inserted Transactions in a slice. Failures can be injected
// to exercise the dead-letter path.
type Memory struct {
	mu       sync.Mutex
	docs     []*transaction.Transaction
	failNext []error
	down     error
	inserts  int
	blobs    *blob.Memory
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{blobs: blob.NewMemory()}
}

// InsertMany implements Store.
func (m *Memory) InsertMany(ctx context.Context, batch []*transaction.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.down != nil {
		return newError("memory", "insert", m.down)
	}
	if len(m.failNext) > 0 {
		err := m.failNext[0]
		m.failNext = m.failNext[1:]
		if err != nil {
			return newError("memory", "insert", err)
		}
	}
	m.docs = append(m.docs, batch...)
	m.inserts++
	return nil
}

// FailNext scripts the outcome of the next len(errs) inserts, in order.
// A nil entry lets that insert succeed.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	m.failNext = append(m.failNext, errs...)
	m.mu.Unlock()
}

// SetDown makes every insert and ping fail with err until it is called
// with nil.
func (m *Memory) SetDown(err error) {
	m.mu.Lock()
	m.down = err
	m.mu.Unlock()
}

// Docs returns a copy of the stored Transactions in insertion order.
func (m *Memory) Docs() []*transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*transaction.Transaction(nil), m.docs...)
}

// Inserts returns the number of successful InsertMany calls.
func (m *Memory) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

// Blobs implements BlobProvider.
func (m *Memory) Blobs(ctx context.Context) (blob.Store, error) {
	return m.blobs, nil
}

// BlobStore returns the in-memory blob store for inspection.
func (m *Memory) BlobStore() *blob.Memory {
	return m.blobs
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down != nil {
		return newError("memory", "ping", m.down)
	}
	return nil
}

// Close implements Store. The contents survive so a reconnect sees them.
func (m *Memory) Close(ctx context.Context) error {
	return nil
}
