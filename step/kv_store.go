// Package step provides concrete startup.Step implementations for the
// handles a partition's role-specific steps populate on partition.Context:
// the embedded key-value store, the stream processor, the exporter
// director, the snapshot director, and the messaging service attachment.
// Each step is deliberately small - the lifecycle core only needs to open
// and close a handle, never interpret what is behind it.
package step

import (
	"context"
	"log/slog"

	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/partlife/store"
)

// KVStore opens the partition's embedded key-value handle on Open and
// closes it on Close, installing it into partition.Context.KVStore.
type KVStore struct {
	StoreName string
	Stores    store.PartitionStore
	Log       *slog.Logger
}

func (s *KVStore) Name() string { return "kv-store" }

func (s *KVStore) Open(ctx context.Context, c *partition.Context) (*partition.Context, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.Debug("opening kv store", "store", s.StoreName, "partition", c.PartitionID)
	handle := s.Stores.Get(c.PartitionID)
	c.KVStore = handle
	return c, nil
}

func (s *KVStore) Close(ctx context.Context, c *partition.Context) (*partition.Context, error) {
	if handle, ok := c.KVStore.(store.Partition); ok && handle != nil {
		if err := handle.Close(ctx); err != nil {
			return c, err
		}
	}
	c.KVStore = nil
	return c, nil
}
