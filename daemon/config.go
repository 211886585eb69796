package daemon

import (
	"fmt"
	"log/slog"

	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	StorageDriverBolt   = "bolt"
	StorageDriverBadger = "badger"
)

// Config configures a Daemon: everything needed to build a supervisor for
// one partition replica and expose its metrics over HTTP. Mirrors the
// teacher's daemon.Config - a plain struct, defaulted through
// tackle/set.Default, with no flag parsing or YAML decoding of its own.
type Config struct {
	// PartitionID and NodeID identify this replica.
	PartitionID int64
	NodeID      int64

	// StorageDriver selects the embedded key-value backend: "bolt" or
	// "badger". Defaults to "bolt".
	StorageDriver string
	// StorageDir is the directory the selected backend stores its
	// per-partition data in.
	StorageDir string

	// ConsensusEndpoint is the address of the remote consensus service this
	// replica's step-down/go-inactive requests target.
	ConsensusEndpoint string

	// ListenAddress is the address:port the metrics HTTP server listens on.
	ListenAddress string

	// Listeners are external observers of role changes, passed through to
	// supervisor.Config.Listeners unchanged.
	Listeners []partition.Listener

	// HealthCheckTick is the period between health polls.
	HealthCheckTick clock.Duration
	// StepOpenTimeout optionally bounds each step's Open call.
	StepOpenTimeout clock.Duration

	// Registry receives the daemon's metrics. A fresh prometheus.Registry is
	// created if left nil.
	Registry *prometheus.Registry

	Log   *slog.Logger
	Clock *clock.Provider
}

func (c *Config) SetDefaults() {
	set.Default(&c.StorageDriver, StorageDriverBolt)
	set.Default(&c.ListenAddress, ":2320")
	set.Default(&c.Registry, prometheus.NewRegistry())
	set.Default(&c.Log, slog.Default())
	set.Default(&c.Clock, clock.NewProvider())
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverBolt, StorageDriverBadger:
	default:
		return fmt.Errorf("invalid storage driver; '%s' is not one of (bolt, badger)", c.StorageDriver)
	}
	if len(c.ConsensusEndpoint) == 0 {
		return fmt.Errorf("ConsensusEndpoint is empty; must provide a consensus service address")
	}
	return nil
}
