package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/kapetan-io/errors"
	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("partition")

// BoltConfig configures a BoltPartitionStore.
type BoltConfig struct {
	// StorageDir is the directory bolt stores its per-partition data files in.
	StorageDir string
	// Log is defaulted and kept with the config; no open or close path
	// writes to it.
	Log *slog.Logger
}

// BoltPartitionStore resolves BoltPartition handles, one bbolt database file
// per partition id.
type BoltPartitionStore struct {
	conf BoltConfig
}

var _ PartitionStore = &BoltPartitionStore{}

// NewBoltPartitionStore creates a BoltPartitionStore from conf.
func NewBoltPartitionStore(conf BoltConfig) *BoltPartitionStore {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &BoltPartitionStore{conf: conf}
}

func (s *BoltPartitionStore) Get(partitionID int64) Partition {
	return &BoltPartition{conf: s.conf, partitionID: partitionID}
}

// BoltPartition is a bbolt-backed Partition. The db file opens lazily on
// first Put/Get/Delete rather than at construction, matching the teacher's
// getDB() pattern.
type BoltPartition struct {
	conf        BoltConfig
	partitionID int64

	mu sync.Mutex
	db *bolt.DB
}

var _ Partition = &BoltPartition{}

func (b *BoltPartition) Put(_ context.Context, key, value []byte) error {
	f := errors.Fields{"category", "bolt", "func", "BoltPartition.Put"}
	db, err := b.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}
		if err := bucket.Put(key, value); err != nil {
			return f.Errorf("during Put(): %w", err)
		}
		return nil
	})
}

func (b *BoltPartition) Get(_ context.Context, key []byte) ([]byte, error) {
	f := errors.Fields{"category", "bolt", "func", "BoltPartition.Get"}
	db, err := b.getDB()
	if err != nil {
		return nil, err
	}
	var out []byte
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}
		if v := bucket.Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	return out, err
}

func (b *BoltPartition) Delete(_ context.Context, key []byte) error {
	f := errors.Fields{"category", "bolt", "func", "BoltPartition.Delete"}
	db, err := b.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName)
		if bucket == nil {
			return f.Error("bucket does not exist in data file")
		}
		if err := bucket.Delete(key); err != nil {
			return f.Errorf("during Delete(): %w", err)
		}
		return nil
	})
}

func (b *BoltPartition) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BoltPartition) getDB() (*bolt.DB, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.db != nil {
		return b.db, nil
	}

	f := errors.Fields{"category", "bolt", "func", "BoltPartition.getDB"}
	file := filepath.Join(b.conf.StorageDir, fmt.Sprintf("partition-%06d.db", b.partitionID))

	opts := &bolt.Options{FreelistType: bolt.FreelistArrayType}
	db, err := bolt.Open(file, 0600, opts)
	if err != nil {
		return nil, f.Errorf("while opening db '%s': %w", file, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if bucket := tx.Bucket(bucketName); bucket == nil {
			_, err := tx.CreateBucket(bucketName)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, f.Errorf("while creating bucket '%s': %w", file, err)
	}

	b.db = db
	return db, nil
}
