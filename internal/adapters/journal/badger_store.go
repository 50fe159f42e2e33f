// Package journal persists workflow results and orphaned containers.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
)

const (
	resultPrefix = "migration:"
	orphanPrefix = "orphan:"
)

// BadgerStore implements ports.Journal with Badger DB.
type BadgerStore struct {
	db *badger.DB
}

// Open opens (or creates) the journal at path. An empty path keeps the journal in memory.
func Open(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) SaveResult(_ context.Context, res domain.Result) error {
	return s.put(resultPrefix+res.ID, res)
}

func (s *BadgerStore) GetResult(_ context.Context, id string) (domain.Result, error) {
	var out domain.Result
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(resultPrefix + id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	if err != nil {
		return domain.Result{}, err
	}
	return out, nil
}

func (s *BadgerStore) AddOrphan(_ context.Context, o domain.Orphan) error {
	return s.put(orphanPrefix+o.ContainerID, o)
}

// Orphans lists unresolved orphans, oldest first.
func (s *BadgerStore) Orphans(_ context.Context) ([]domain.Orphan, error) {
	var out []domain.Orphan
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(orphanPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var o domain.Orphan
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &o)
			}); err != nil {
				return err
			}
			out = append(out, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *BadgerStore) ResolveOrphan(_ context.Context, containerID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(orphanPrefix + containerID))
	})
}

func (s *BadgerStore) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}
