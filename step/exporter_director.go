package step

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kapetan-io/partlife/partition"
)

type exporterState struct {
	log    *slog.Logger
	paused atomic.Bool
}

func (e *exporterState) Pause(context.Context) error {
	e.paused.Store(true)
	e.log.Debug("exporter director paused")
	return nil
}

func (e *exporterState) Resume(context.Context) error {
	e.paused.Store(false)
	e.log.Debug("exporter director resumed")
	return nil
}

var _ partition.ExporterDirector = &exporterState{}

// ExporterDirector installs the leader-only exporter handle. Followers do
// not run an exporter, so this step is only ever present in a supervisor's
// LeaderSteps.
type ExporterDirector struct {
	Log *slog.Logger
}

func (s *ExporterDirector) Name() string { return "exporter-director" }

func (s *ExporterDirector) Open(ctx context.Context, c *partition.Context) (*partition.Context, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	c.ExporterDirector = &exporterState{log: log.With("code.namespace", "step.ExporterDirector")}
	if c.ExportingPaused {
		if err := c.ExporterDirector.Pause(ctx); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (s *ExporterDirector) Close(ctx context.Context, c *partition.Context) (*partition.Context, error) {
	c.ExporterDirector = nil
	return c, nil
}
