package draft

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by a Storage when no entry exists for a key.
var ErrNotFound = errors.New("draft entry not found")

// Storage is the durable string-keyed store a draft is persisted to.
type Storage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
}

// MemoryStorage keeps entries in process memory. Entries live as long as the process.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{entries: make(map[string]string)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.entries[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *MemoryStorage) Set(_ context.Context, key string, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = value
	return nil
}

func (m *MemoryStorage) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Len returns the number of stored entries.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
