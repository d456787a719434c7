// Package keyvalstore wraps the badger key-value store the wiki
// persists all entities in.
package keyvalstore

import (
	"encoding/hex"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

type StoreConfig struct {
	Path             string
	MinimumFreeSpace int // in GB
	Logger           *logrus.Logger
}

type KeyValStore struct {
	config       StoreConfig
	badgerDB     *badger.DB
	readCounter  uint64
	writeCounter uint64
}

func NewKeyValStore(config StoreConfig) (*KeyValStore, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	log = config.Logger

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for KeyValStore: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", config.Path, err)
	}

	if err := displayDiskUsage(config.Path); err != nil {
		log.Warnf("could not read disk usage: %v", err)
	}

	return &KeyValStore{
		config:   config,
		badgerDB: db,
	}, nil
}

func (k *KeyValStore) Write(key []byte, content []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)

	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Set(key, content)
	})
	if err != nil {
		return fmt.Errorf("error writing key %s: %w", hex.EncodeToString(key), err)
	}
	return nil
}

func (k *KeyValStore) Read(key []byte) ([]byte, error) {
	atomic.AddUint64(&k.readCounter, 1)
	var value []byte
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error reading key %s: %w", hex.EncodeToString(key), err)
	}
	return value, nil
}

// Exists reports whether a key is present without copying its value.
func (k *KeyValStore) Exists(key []byte) (bool, error) {
	atomic.AddUint64(&k.readCounter, 1)
	var found bool
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("error checking key %s: %w", hex.EncodeToString(key), err)
	}
	return found, nil
}

func (k *KeyValStore) Delete(key []byte) error {
	atomic.AddUint64(&k.writeCounter, 1)
	err := k.badgerDB.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("error deleting key %s: %w", hex.EncodeToString(key), err)
	}
	return nil
}

// Update runs fn inside one read-write badger transaction. The chain
// head compare-and-swap in the entity store depends on this being a
// single serialized transaction.
func (k *KeyValStore) Update(fn func(txn *badger.Txn) error) error {
	atomic.AddUint64(&k.writeCounter, 1)
	return k.badgerDB.Update(fn)
}

// GetItemsWithPrefix returns all keys and values with the given prefix.
func (k *KeyValStore) GetItemsWithPrefix(prefix []byte) ([][][]byte, error) {
	var keysAndValues [][][]byte
	atomic.AddUint64(&k.readCounter, 1)
	err := k.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keysAndValues = append(keysAndValues, [][]byte{key, value})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error scanning prefix %s: %w", string(prefix), err)
	}
	return keysAndValues, nil
}

func (k *KeyValStore) Close() {
	k.Clean()
	k.badgerDB.Close()
}

func (k *KeyValStore) Clean() error {
	err := k.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	err = k.badgerDB.Flatten(runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}

	err = k.badgerDB.RunValueLogGC(0.1)
	if err != nil && err != badger.ErrNoRewrite {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}
