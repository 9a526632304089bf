package storage

import (
	"context"
	"sync"
)

// Memory is an in-memory backend, data lost on restart
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory makes an empty in-memory backend
func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

// Get returns a copy of the value stored under key
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// Set stores a copy of value under key
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// Close does nothing
func (m *Memory) Close() error { return nil }
