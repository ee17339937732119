package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

// the whole baseline lives under one key so a Save is a single atomic Set
var badgerKey = []byte("baseline/v1")

// BadgerStore implements Store with an embedded Badger database
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the baseline database at path
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil // badger's own logging is too chatty for a sidecar store
	opts = opts.WithValueLogFileSize(1 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open baseline store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Load(ctx context.Context) (map[string]Record, error) {
	records := make(map[string]Record)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &records)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	return records, nil
}

func (s *BadgerStore) Save(ctx context.Context, records map[string]Record) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal baseline: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey, data)
	})
	if err != nil {
		return fmt.Errorf("failed to save baseline: %w", err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
