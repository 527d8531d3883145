package positionstore

import (
	"sync"
	"sync/atomic"
)

// MemoryBackend is an in-memory Backend for tests and standalone mode.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[uint64][]byte
	open int64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[uint64][]byte)}
}

// NewMemoryBackendFromConfig ignores the config; it exists to satisfy the
// BackendFactory signature.
func NewMemoryBackendFromConfig(*Config) (Backend, error) {
	return NewMemoryBackend(), nil
}

func (m *MemoryBackend) Name() string {
	return "memory"
}

func (m *MemoryBackend) Open(createIfMissing bool) error {
	if !atomic.CompareAndSwapInt64(&m.open, 0, 1) {
		return ErrBackendClosed
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&m.open, 1, 0) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[uint64][]byte)
	return nil
}

func (m *MemoryBackend) IsOpen() bool {
	return atomic.LoadInt64(&m.open) != 0
}

func (m *MemoryBackend) Put(id uint64, value []byte) error {
	if !m.IsOpen() {
		return ErrBackendClosed
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.mu.Lock()
	m.data[id] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Get(id uint64) ([]byte, error) {
	if !m.IsOpen() {
		return nil, ErrBackendClosed
	}
	m.mu.RLock()
	value, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (m *MemoryBackend) Delete(id uint64) error {
	if !m.IsOpen() {
		return ErrBackendClosed
	}
	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) ForEach(fn func(id uint64, value []byte) error) error {
	if !m.IsOpen() {
		return ErrBackendClosed
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, value := range m.data {
		cp := make([]byte, len(value))
		copy(cp, value)
		if err := fn(id, cp); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Sync() error {
	if !m.IsOpen() {
		return ErrBackendClosed
	}
	return nil
}

// Size returns the number of stored records.
func (m *MemoryBackend) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func init() {
	RegisterBackend("memory", NewMemoryBackendFromConfig)
}
