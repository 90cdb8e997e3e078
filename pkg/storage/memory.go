package storage

import (
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is an in-memory Store implementation, used in tests and anywhere persistence
// across restarts is not required.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string][]byte)}
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Write(namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[namespace] == nil {
		m.data[namespace] = make(map[string][]byte)
	}
	m.data[namespace][key] = value
	return nil
}

func (m *MemoryStore) Read(namespace, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[namespace][key], nil
}

func (m *MemoryStore) Delete(namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[namespace] == nil {
		return errors.Errorf("namespace<%s> does not exist", namespace)
	}
	delete(m.data[namespace], key)
	return nil
}

func (m *MemoryStore) DeleteNamespace(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, namespace)
	return nil
}
