package sink

import "sync"

// Memory records every accepted item. It is intended for tests and local
// debugging; nothing is ever evicted.
type Memory[T any] struct {
	mu        sync.Mutex
	items     []T
	completed int
}

// NewMemory creates an empty recording sink.
func NewMemory[T any]() *Memory[T] {
	return &Memory[T]{}
}

// Accept records item.
func (m *Memory[T]) Accept(item T) {
	m.mu.Lock()
	m.items = append(m.items, item)
	m.completed++
	m.mu.Unlock()
}

// Completed returns how many items were accepted since creation,
// including items already removed by Pop or Reset.
func (m *Memory[T]) Completed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed
}

// Pop removes and returns the most recently accepted item.
func (m *Memory[T]) Pop() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if len(m.items) == 0 {
		return zero, false
	}
	last := m.items[len(m.items)-1]
	m.items[len(m.items)-1] = zero
	m.items = m.items[:len(m.items)-1]
	return last, true
}

// All returns a copy of the recorded items in acceptance order.
func (m *Memory[T]) All() []T {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

// Reset drops the recorded items. Completed is not reset.
func (m *Memory[T]) Reset() {
	m.mu.Lock()
	m.items = nil
	m.mu.Unlock()
}
