// internal/storage/badger_store.go
package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

var (
	ErrNotFound = errors.New("entity not found")
	ErrExists   = errors.New("entity already exists")
)

// Entity represents any storable entity with an ID
type Entity interface {
	GetID() string
}

// BadgerStore keeps JSON-encoded entities under "<prefix>:<id>" keys
type BadgerStore[T Entity] struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore[T Entity](db *badger.DB, prefix string) *BadgerStore[T] {
	return &BadgerStore[T]{
		db:     db,
		prefix: prefix,
	}
}

// Open opens a BadgerDB at path, or an in-memory one when inMemory is set
func Open(path string, inMemory bool) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.WARNING)
	if inMemory {
		opts = badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

func (s *BadgerStore[T]) key(id string) []byte {
	return []byte(fmt.Sprintf("%s:%s", s.prefix, id))
}

// CreateTxn stores a new entity inside an existing transaction
func (s *BadgerStore[T]) CreateTxn(txn *badger.Txn, entity T) error {
	id := entity.GetID()
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.key(id)
	_, err = txn.Get(key)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrExists, id)
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	return txn.Set(key, data)
}

func (s *BadgerStore[T]) Create(entity T) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.CreateTxn(txn, entity)
	})
}

// GetTxn decodes one entity inside an existing transaction
func (s *BadgerStore[T]) GetTxn(txn *badger.Txn, id string, entity T) error {
	item, err := txn.Get(s.key(id))
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return err
	}

	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, entity)
	})
}

func (s *BadgerStore[T]) Get(id string, entity T) error {
	return s.db.View(func(txn *badger.Txn) error {
		return s.GetTxn(txn, id, entity)
	})
}

func (s *BadgerStore[T]) Update(entity T) error {
	id := entity.GetID()
	if id == "" {
		return fmt.Errorf("entity ID cannot be empty")
	}

	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshaling entity: %w", err)
	}

	key := s.key(id)
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		} else if err != nil {
			return err
		}

		return txn.Set(key, data)
	})
}

// DeleteTxn removes an entity inside an existing transaction
func (s *BadgerStore[T]) DeleteTxn(txn *badger.Txn, id string) error {
	key := s.key(id)
	_, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	} else if err != nil {
		return err
	}

	return txn.Delete(key)
}

func (s *BadgerStore[T]) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return s.DeleteTxn(txn, id)
	})
}

// ListTxn decodes every entity under the prefix inside an existing
// transaction, in key order. newT must return a fresh value to decode into.
func (s *BadgerStore[T]) ListTxn(txn *badger.Txn, newT func() T) ([]T, error) {
	var results []T

	opts := badger.DefaultIteratorOptions
	prefix := []byte(s.prefix + ":")
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		entity := newT()
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, entity)
		})
		if err != nil {
			return nil, err
		}
		results = append(results, entity)
	}
	return results, nil
}

// List is ListTxn in its own read transaction
func (s *BadgerStore[T]) List(newT func() T) ([]T, error) {
	var results []T

	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		results, err = s.ListTxn(txn, newT)
		return err
	})

	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	return results, nil
}
