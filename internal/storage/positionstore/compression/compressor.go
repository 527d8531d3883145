// Package compression provides the pluggable block compressors used by the
// position store backends.
package compression

import (
	"fmt"
	"sync"
)

// Compressor is a block compression algorithm.
type Compressor interface {
	// Name returns the algorithm name used in configuration.
	Name() string

	// Compress compresses data at the given level.
	Compress(data []byte, level int) ([]byte, error)

	// Decompress restores a block compressed by this algorithm. size is the
	// original uncompressed length.
	Decompress(data []byte, size int) ([]byte, error)
}

// Factory creates a new compressor instance.
type Factory func() Compressor

var (
	mu          sync.RWMutex
	compressors = make(map[string]Factory)
)

// Register registers a compressor factory under name.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	compressors[name] = factory
}

// Get returns a new compressor instance for the given name.
func Get(name string) (Compressor, error) {
	mu.RLock()
	factory, ok := compressors[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown compressor: %s", name)
	}
	return factory(), nil
}

// Available returns the registered compressor names.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(compressors))
	for name := range compressors {
		names = append(names, name)
	}
	return names
}

func init() {
	Register("none", func() Compressor { return &NoCompressor{} })
	Register("lz4", func() Compressor { return &LZ4Compressor{} })
}
