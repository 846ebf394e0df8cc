package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

type badgerStorage[T any] struct {
	sync.RWMutex

	db *badger.DB
}

func NewBadgerStorage[T any](dataDir string) (Storage[T], error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "badger.db"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open Badger database: %w", err)
	}

	return &badgerStorage[T]{
		db: db,
	}, nil
}

func (s *badgerStorage[T]) Create(_ context.Context, key string, value T) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return ErrEntityExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return writeValue(txn, key, value)
	})
}

func (s *badgerStorage[T]) Get(_ context.Context, key string) (T, error) {
	var result T
	if key == "" {
		return result, ErrEmptyKey
	}

	s.RLock()
	defer s.RUnlock()

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}

			return fmt.Errorf("failed to get key: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})

	return result, err
}

func (s *badgerStorage[T]) Update(_ context.Context, key string, value T) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}

			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return writeValue(txn, key, value)
	})
}

func (s *badgerStorage[T]) List(_ context.Context, offset, limit uint64) (result []T, total uint64, err error) {
	s.RLock()
	defer s.RUnlock()

	var keys []string
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}

		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list keys: %w", err)
	}

	slices.Sort(keys)
	total = uint64(len(keys))

	if offset >= total {
		return nil, total, nil
	}

	end := min(offset+limit, total)
	result = make([]T, 0, end-offset)

	err = s.db.View(func(txn *badger.Txn) error {
		for _, key := range keys[offset:end] {
			item, err := txn.Get([]byte(key))
			if err != nil {
				return fmt.Errorf("failed to get key %q: %w", key, err)
			}

			var value T
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &value)
			}); err != nil {
				return fmt.Errorf("failed to unmarshal key %q: %w", key, err)
			}
			result = append(result, value)
		}

		return nil
	})

	return result, total, err
}

func (s *badgerStorage[T]) Delete(_ context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}

			return fmt.Errorf("failed to check key existence: %w", err)
		}

		return txn.Delete([]byte(key))
	})
}

func (s *badgerStorage[T]) Close() error {
	s.Lock()
	defer s.Unlock()

	return s.db.Close()
}

func writeValue[T any](txn *badger.Txn, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return txn.Set([]byte(key), data)
}
