package testutil

import (
	"sync"

	"licmgr/internal/store"
)

// MemoryStore is an in-memory store.Store for tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailPuts makes every Put fail with the given error when set.
	FailPuts error
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string][]byte{}}
}

var _ store.Store = (*MemoryStore)(nil)

// Get implements store.Store.
func (m *MemoryStore) Get(key string, def []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.data[key]; ok {
		out := make([]byte, len(v))
		copy(out, v)
		return out, nil
	}
	return def, nil
}

// Put implements store.Store.
func (m *MemoryStore) Put(key string, value []byte) error {
	if m.FailPuts != nil {
		return m.FailPuts
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	m.data[key] = stored
	return nil
}

// Delete implements store.Store.
func (m *MemoryStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close implements store.Store.
func (m *MemoryStore) Close() error { return nil }
