package step

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/kapetan-io/partlife/partition"
)

// processorState is a small pausable state machine standing in for the
// record processor this core drives but does not implement. It satisfies
// partition.StreamProcessor.
type processorState struct {
	log    *slog.Logger
	paused atomic.Bool
}

func (p *processorState) Pause(context.Context) error {
	p.paused.Store(true)
	p.log.Debug("stream processor paused")
	return nil
}

func (p *processorState) Resume(context.Context) error {
	p.paused.Store(false)
	p.log.Debug("stream processor resumed")
	return nil
}

func (p *processorState) TriggerSnapshot(context.Context) error {
	p.log.Debug("stream processor snapshot triggered")
	return nil
}

var _ partition.StreamProcessor = &processorState{}

// StreamProcessor installs a record processor handle on Open and tears it
// down on Close. The real record processor implementation lives outside
// this core (§1); this step only manages its lifecycle handle.
type StreamProcessor struct {
	Log *slog.Logger
}

func (s *StreamProcessor) Name() string { return "stream-processor" }

func (s *StreamProcessor) Open(ctx context.Context, c *partition.Context) (*partition.Context, error) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	c.StreamProcessor = &processorState{log: log.With("code.namespace", "step.StreamProcessor")}
	if c.ProcessingPaused || !c.DiskSpaceAvailable {
		if err := c.StreamProcessor.Pause(ctx); err != nil {
			return c, err
		}
	}
	return c, nil
}

func (s *StreamProcessor) Close(ctx context.Context, c *partition.Context) (*partition.Context, error) {
	if c.StreamProcessor != nil {
		_ = c.StreamProcessor.Pause(ctx)
	}
	c.StreamProcessor = nil
	return c, nil
}
