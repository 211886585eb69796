package step

import (
	"context"
	"log/slog"

	"github.com/kapetan-io/partlife/partition"
)

// SnapshotDirector installs the leader-only snapshot coordination handle.
type SnapshotDirector struct {
	Log *slog.Logger
}

func (s *SnapshotDirector) Name() string { return "snapshot-director" }

func (s *SnapshotDirector) Open(_ context.Context, c *partition.Context) (*partition.Context, error) {
	c.SnapshotDirector = struct{}{}
	return c, nil
}

func (s *SnapshotDirector) Close(_ context.Context, c *partition.Context) (*partition.Context, error) {
	c.SnapshotDirector = nil
	return c, nil
}

// MessagingService installs the inter-node messaging attachment used to
// gossip partition role and health between replicas.
type MessagingService struct {
	Log *slog.Logger
}

func (s *MessagingService) Name() string { return "messaging-service" }

func (s *MessagingService) Open(_ context.Context, c *partition.Context) (*partition.Context, error) {
	c.MessagingService = struct{}{}
	return c, nil
}

func (s *MessagingService) Close(_ context.Context, c *partition.Context) (*partition.Context, error) {
	c.MessagingService = nil
	return c, nil
}

// LogStream installs the replicated log handle leader and follower steps
// both depend on, attached before the stream processor so the processor's
// Open can assume it is present.
type LogStream struct {
	Log *slog.Logger
}

func (s *LogStream) Name() string { return "log-stream" }

func (s *LogStream) Open(_ context.Context, c *partition.Context) (*partition.Context, error) {
	c.LogStream = struct{}{}
	return c, nil
}

func (s *LogStream) Close(_ context.Context, c *partition.Context) (*partition.Context, error) {
	c.LogStream = nil
	return c, nil
}
