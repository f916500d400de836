package artifact

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps artifacts in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put implements Store.
func (m *MemoryStore) Put(_ context.Context, name, _ string, data []byte) (string, error) {
	id := objectKey("", name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[id] = append([]byte(nil), data...)
	return id, nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, fileID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, fileID)
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored artifacts.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
