package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/tackle/set"
)

// BadgerConfig configures a BadgerPartitionStore.
type BadgerConfig struct {
	// StorageDir is the directory badger stores its per-partition data in.
	StorageDir string
	// Log is defaulted and kept with the config; no open or close path
	// writes to it.
	Log *slog.Logger
}

func (c *BadgerConfig) setDefaults() {
	set.Default(&c.Log, slog.Default())
}

// BadgerPartitionStore resolves BadgerPartition handles, one badger
// database directory per partition id. Selected over BoltPartitionStore by
// daemon.Config.StorageDriver when the deployment wants badger's LSM-tree
// write profile instead of bolt's single-file B+tree.
type BadgerPartitionStore struct {
	conf BadgerConfig
}

var _ PartitionStore = &BadgerPartitionStore{}

// NewBadgerPartitionStore creates a BadgerPartitionStore from conf.
func NewBadgerPartitionStore(conf BadgerConfig) *BadgerPartitionStore {
	conf.setDefaults()
	return &BadgerPartitionStore{conf: conf}
}

func (s *BadgerPartitionStore) Get(partitionID int64) Partition {
	return &BadgerPartition{conf: s.conf, partitionID: partitionID}
}

// BadgerPartition is a badger-backed Partition.
type BadgerPartition struct {
	conf        BadgerConfig
	partitionID int64

	mu sync.Mutex
	db *badger.DB
}

var _ Partition = &BadgerPartition{}

func (b *BadgerPartition) Put(_ context.Context, key, value []byte) error {
	f := errors.Fields{"category", "badger", "func", "BadgerPartition.Put"}
	db, err := b.getDB()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return f.Errorf("during Set(): %w", err)
	}
	return nil
}

func (b *BadgerPartition) Get(_ context.Context, key []byte) ([]byte, error) {
	f := errors.Fields{"category", "badger", "func", "BadgerPartition.Get"}
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}
	var out []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(v []byte) error {
			out = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, f.Errorf("during Get(): %w", err)
	}
	return out, nil
}

func (b *BadgerPartition) Delete(_ context.Context, key []byte) error {
	f := errors.Fields{"category", "badger", "func", "BadgerPartition.Delete"}
	db, err := b.getDB()
	if err != nil {
		return err
	}
	err = db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return f.Errorf("during Delete(): %w", err)
	}
	return nil
}

func (b *BadgerPartition) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BadgerPartition) getDB() (*badger.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db, nil
	}

	f := errors.Fields{"category", "badger", "func", "BadgerPartition.getDB"}
	dir := filepath.Join(b.conf.StorageDir, fmt.Sprintf("partition-%06d", b.partitionID))

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, f.Errorf("while opening db '%s': %w", dir, err)
	}

	b.db = db
	return db, nil
}
