package contentstore

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

// MemoryBackend keeps content in process memory. It is meant for local
// development and tests.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[string][]byte)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Put(_ context.Context, data []byte) (string, error) {
	c, err := Digest(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[c.String()] = append([]byte(nil), data...)
	return c.String(), nil
}

func (m *MemoryBackend) Get(_ context.Context, c cid.Cid) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[c.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Len returns the number of stored objects.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
