// Package store provides the embedded key-value backends a partition
// attaches to as its kv_store handle during bootstrap. The core never
// interprets the bytes it stores there - it only opens and closes a handle
// to it, the way the teacher's internal/store package backs a queue's
// Partition with a choice of embedded engines.
package store

import "context"

// Partition is the per-replica key-value handle installed into
// partition.Context.KVStore. Keys and values are opaque to the lifecycle
// core; a record processor built on top of this core interprets them.
type Partition interface {
	Put(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)
	Delete(ctx context.Context, key []byte) error
	Close(ctx context.Context) error
}

// PartitionStore resolves the Partition handle for a given partition id,
// lazily opening the backing engine on first use.
type PartitionStore interface {
	Get(partitionID int64) Partition
}
