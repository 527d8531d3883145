package positionstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
)

// PebbleBackend is the persistent Backend, an LSM tree keyed by the 8-byte
// big-endian position id.
type PebbleBackend struct {
	db   *pebble.DB
	cfg  *Config
	open int64
}

func NewPebbleBackend(cfg *Config) (Backend, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("pebble backend requires a path")
	}
	return &PebbleBackend{cfg: cfg}, nil
}

func (p *PebbleBackend) Name() string {
	return fmt.Sprintf("pebble(%s)", p.cfg.Path)
}

func (p *PebbleBackend) Open(createIfMissing bool) error {
	if !atomic.CompareAndSwapInt64(&p.open, 0, 1) {
		return fmt.Errorf("backend already open")
	}
	if createIfMissing {
		if err := os.MkdirAll(p.cfg.Path, 0o755); err != nil {
			atomic.StoreInt64(&p.open, 0)
			return fmt.Errorf("create %s: %w", p.cfg.Path, err)
		}
	}
	db, err := pebble.Open(p.cfg.Path, p.buildOptions())
	if err != nil {
		atomic.StoreInt64(&p.open, 0)
		return fmt.Errorf("open pebble at %s: %w", p.cfg.Path, err)
	}
	p.db = db
	return nil
}

// buildOptions tunes pebble for the archive workload: append-mostly writes,
// point lookups by id, record compression handled above this layer.
func (p *PebbleBackend) buildOptions() *pebble.Options {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 16 << 20,
		Levels:       make([]pebble.LevelOptions, 7),
	}
	for i := range opts.Levels {
		opts.Levels[i] = pebble.LevelOptions{
			BlockSize:    16 << 10,
			FilterPolicy: bloom.FilterPolicy(10),
			FilterType:   pebble.TableFilter,
			Compression:  pebble.NoCompression,
		}
	}
	return opts
}

func (p *PebbleBackend) Close() error {
	if !atomic.CompareAndSwapInt64(&p.open, 1, 0) {
		return nil
	}
	if p.db == nil {
		return nil
	}
	err := p.db.Flush()
	if cerr := p.db.Close(); err == nil {
		err = cerr
	}
	p.db = nil
	return err
}

func (p *PebbleBackend) IsOpen() bool {
	return atomic.LoadInt64(&p.open) != 0
}

func keyBytes(id uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)
	return key[:]
}

func (p *PebbleBackend) Put(id uint64, value []byte) error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}
	return p.db.Set(keyBytes(id), value, pebble.NoSync)
}

func (p *PebbleBackend) Get(id uint64) ([]byte, error) {
	if !p.IsOpen() {
		return nil, ErrBackendClosed
	}
	value, closer, err := p.db.Get(keyBytes(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	cp := make([]byte, len(value))
	copy(cp, value)
	return cp, nil
}

func (p *PebbleBackend) Delete(id uint64) error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}
	return p.db.Delete(keyBytes(id), pebble.NoSync)
}

func (p *PebbleBackend) ForEach(fn func(id uint64, value []byte) error) error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}
	iter, err := p.db.NewIter(nil)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 8 {
			continue
		}
		value := iter.Value()
		cp := make([]byte, len(value))
		copy(cp, value)
		if err := fn(binary.BigEndian.Uint64(key), cp); err != nil {
			return err
		}
	}
	return iter.Error()
}

func (p *PebbleBackend) Sync() error {
	if !p.IsOpen() {
		return ErrBackendClosed
	}
	return p.db.Flush()
}

func init() {
	RegisterBackend("pebble", NewPebbleBackend)
}
