package supervisor

import (
	"log/slog"

	"github.com/kapetan-io/partlife/health"
	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/partlife/startup"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
	"github.com/prometheus/client_golang/prometheus"
)

// Config configures a Supervisor. Mirrors the teacher's *Config struct
// style (LogicalConfig, LifeCycleConfig): a plain exported struct with
// doc-commented fields, defaulted through tackle/set.Default rather than
// requiring every caller to populate every field.
type Config struct {
	// PartitionID and NodeID identify this replica; opaque to the core.
	PartitionID int64
	NodeID      int64

	// Consensus is the external collaborator that emits role-change events
	// and accepts step-down/go-inactive requests.
	Consensus partition.Consensus

	// BootstrapSteps run once, before any role-specific transition, and are
	// not tied to a particular role. They close in reverse only when the
	// supervisor itself closes.
	BootstrapSteps []startup.Step[*partition.Context]

	// LeaderSteps and FollowerSteps are the role-specific steps the
	// transition engine installs when consensus promotes or demotes this
	// replica. Leader installs the full set; Follower installs a reduced
	// set; Inactive installs none.
	LeaderSteps   []startup.Step[*partition.Context]
	FollowerSteps []startup.Step[*partition.Context]

	// Listeners are external observers of role changes, notified after a
	// transition settles.
	Listeners []partition.Listener

	// HealthCheckTick is the period between health polls.
	HealthCheckTick clock.Duration
	// StepOpenTimeout optionally bounds each step's Open call. Zero means
	// no timeout, relying on the step's own behavior.
	StepOpenTimeout clock.Duration

	// HealthRegistry, if set, receives a Metrics collaborator wired against
	// the supervisor's own health monitor.
	HealthRegistry prometheus.Registerer

	Log   *slog.Logger
	Clock *clock.Provider
}

func (c *Config) setDefaults() {
	set.Default(&c.Log, slog.Default())
	set.Default(&c.Clock, clock.NewProvider())
	set.Default(&c.HealthCheckTick, health.DefaultTick)
}
