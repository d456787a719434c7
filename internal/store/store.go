// Package store persists wiki entities in the key-value store. Every
// entity is a gob blob under a "Type:" prefixed key derived from its
// natural key, so lookups are single reads and listings are prefix
// scans.
package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/loreweave/loreweave/internal/keyvalstore"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleBase is returned by AppendEdit when the chain head moved
	// between the caller's read and the append.
	ErrStaleBase = errors.New("chain head changed since base version was read")
)

type Store struct {
	kv *keyvalstore.KeyValStore
}

func New(kv *keyvalstore.KeyValStore) *Store {
	return &Store{kv: kv}
}

func (s *Store) Close() {
	s.kv.Close()
}

func (s *Store) GarbageCollection() error {
	return s.kv.Clean()
}

// actorKey builds "<prefix><hex sha256(naturalKey)>".
func actorKey(prefix, naturalKey string) []byte {
	sum := sha256.Sum256([]byte(naturalKey))
	return append([]byte(prefix), []byte(hex.EncodeToString(sum[:]))...)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

func (s *Store) put(key []byte, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	return s.kv.Write(key, data)
}

func (s *Store) get(key []byte, v any) error {
	data, err := s.kv.Read(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return err
	}
	return decode(data, v)
}
