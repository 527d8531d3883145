package positionstore

import (
	"encoding/binary"
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/optionledger/optiond/internal/core/option"
	"github.com/optionledger/optiond/internal/storage/positionstore/compression"
)

const (
	// frameHeaderSize is flag byte + 4-byte raw length.
	frameHeaderSize = 1 + 4
	// minCompressionSize skips compression for records too small to gain.
	minCompressionSize = 128
)

// Store persists position snapshots through a Backend. Records are
// cbor-encoded, then framed with a compression flag and the raw length so
// reads can size the decompression buffer exactly.
type Store struct {
	backend Backend
	comp    compression.Compressor
	level   int
	handle  codec.Handle
}

// NewStore opens the named backend and wires the configured compressor.
func NewStore(backendName string, cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Compressor == "" {
		cfg.Compressor = "lz4"
	}
	comp, err := compression.Get(cfg.Compressor)
	if err != nil {
		return nil, err
	}
	backend, err := CreateBackend(backendName, cfg)
	if err != nil {
		return nil, err
	}
	if err := backend.Open(true); err != nil {
		return nil, err
	}
	return &Store{
		backend: backend,
		comp:    comp,
		level:   cfg.CompressionLevel,
		handle:  &codec.CborHandle{},
	}, nil
}

// Backend exposes the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// Put writes a position snapshot under its id.
func (s *Store) Put(pos option.Position) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, s.handle).Encode(pos); err != nil {
		return fmt.Errorf("encode position %d: %w", pos.ID, err)
	}

	payload := raw
	var flag byte
	if len(raw) > minCompressionSize && s.comp.Name() != "none" {
		compressed, err := s.comp.Compress(raw, s.level)
		if err == nil && len(compressed) < len(raw) {
			payload = compressed
			flag = 1
		}
	}

	frame := make([]byte, frameHeaderSize+len(payload))
	frame[0] = flag
	binary.LittleEndian.PutUint32(frame[1:5], uint32(len(raw)))
	copy(frame[frameHeaderSize:], payload)

	return s.backend.Put(pos.ID, frame)
}

// Get reads a position snapshot by id, or ErrNotFound.
func (s *Store) Get(id uint64) (option.Position, error) {
	frame, err := s.backend.Get(id)
	if err != nil {
		return option.Position{}, err
	}
	raw, err := s.unframe(frame)
	if err != nil {
		return option.Position{}, fmt.Errorf("position %d: %w", id, err)
	}
	var pos option.Position
	if err := codec.NewDecoderBytes(raw, s.handle).Decode(&pos); err != nil {
		return option.Position{}, fmt.Errorf("decode position %d: %w", id, err)
	}
	return pos, nil
}

// Delete removes a stored snapshot.
func (s *Store) Delete(id uint64) error {
	return s.backend.Delete(id)
}

// ForEach iterates over every stored snapshot.
func (s *Store) ForEach(fn func(option.Position) error) error {
	return s.backend.ForEach(func(id uint64, frame []byte) error {
		raw, err := s.unframe(frame)
		if err != nil {
			return fmt.Errorf("position %d: %w", id, err)
		}
		var pos option.Position
		if err := codec.NewDecoderBytes(raw, s.handle).Decode(&pos); err != nil {
			return fmt.Errorf("decode position %d: %w", id, err)
		}
		return fn(pos)
	})
}

func (s *Store) unframe(frame []byte) ([]byte, error) {
	if len(frame) < frameHeaderSize {
		return nil, fmt.Errorf("truncated record: %d bytes", len(frame))
	}
	rawLen := int(binary.LittleEndian.Uint32(frame[1:5]))
	payload := frame[frameHeaderSize:]
	if frame[0] == 0 {
		return payload, nil
	}
	return s.comp.Decompress(payload, rawLen)
}

// Sync flushes the backend.
func (s *Store) Sync() error {
	return s.backend.Sync()
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
