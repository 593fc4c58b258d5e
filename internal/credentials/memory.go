package credentials

import (
	"context"
	"sync"
)

// MemorySubstrate keeps values for the life of the process.
type MemorySubstrate struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{values: make(map[string]string)}
}

func (m *MemorySubstrate) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MemorySubstrate) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemorySubstrate) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}
