// Package positionstore persists closed option positions. Live state is held
// in memory by the ledger; once a position reaches a terminal state the
// archiver writes its final snapshot here, codec-encoded and lz4-framed,
// through a pluggable key-value backend.
package positionstore

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrNotFound      = errors.New("position not found in store")
	ErrBackendClosed = errors.New("backend is closed")
)

// Backend is a key-value store of encoded position records keyed by
// position id.
type Backend interface {
	Name() string
	Open(createIfMissing bool) error
	Close() error
	IsOpen() bool

	Put(id uint64, value []byte) error
	// Get returns the stored value, or ErrNotFound.
	Get(id uint64) ([]byte, error)
	Delete(id uint64) error
	ForEach(fn func(id uint64, value []byte) error) error
	Sync() error
}

// Config configures a backend instance.
type Config struct {
	// Path is the on-disk location for persistent backends.
	Path string
	// Compressor names the block compressor applied to records ("none",
	// "lz4").
	Compressor string
	// CompressionLevel is passed through to the compressor.
	CompressionLevel int
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() *Config {
	return &Config{Compressor: "lz4"}
}

// BackendFactory creates a backend from a config.
type BackendFactory func(cfg *Config) (Backend, error)

var (
	backendMu        sync.RWMutex
	backendFactories = make(map[string]BackendFactory)
)

// RegisterBackend registers a backend factory under name.
func RegisterBackend(name string, factory BackendFactory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendFactories[name] = factory
}

// CreateBackend instantiates the named backend.
func CreateBackend(name string, cfg *Config) (Backend, error) {
	backendMu.RLock()
	factory, ok := backendFactories[name]
	backendMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend: %s", name)
	}
	return factory(cfg)
}

// AvailableBackends returns the registered backend names.
func AvailableBackends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	return names
}
