// Package transition maps a (current role, new role) pair onto an
// install/teardown plan: close the current role's steps in reverse, then
// open the new role's steps in order. It is the partition transition engine
// component of the lifecycle core, built on top of startup.Process.
package transition

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kapetan-io/partlife/actor"
	"github.com/kapetan-io/partlife/partition"
	"github.com/kapetan-io/partlife/startup"
)

// Config supplies the role-specific step sets the engine installs. Inactive
// has no steps of its own: transitioning to Inactive only closes whatever
// the previous role had open.
type Config struct {
	LeaderSteps   []startup.Step[*partition.Context]
	FollowerSteps []startup.Step[*partition.Context]
	Log           *slog.Logger
}

// Engine drives role-specific install/teardown plans. It is not itself
// actor-bound: the partition supervisor serializes calls to ToLeader,
// ToFollower and ToInactive from its own executor, so the engine only needs
// to track which set of steps is currently installed.
type Engine struct {
	conf Config
	log  *slog.Logger

	mu      sync.Mutex
	current *startup.Process[*partition.Context]
}

// New creates an Engine from conf.
func New(conf Config) *Engine {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &Engine{
		conf: conf,
		log:  conf.Log.With("code.namespace", "transition.Engine"),
	}
}

// ToLeader closes whatever role-specific steps are currently installed and
// opens the leader's steps in the configured order.
func (e *Engine) ToLeader(ctx context.Context, pctx *partition.Context, term int64) *actor.Future[*partition.Context] {
	return e.transition(ctx, pctx, "leader", term, e.conf.LeaderSteps)
}

// ToFollower closes whatever role-specific steps are currently installed and
// opens the follower's (reduced) steps in the configured order.
func (e *Engine) ToFollower(ctx context.Context, pctx *partition.Context, term int64) *actor.Future[*partition.Context] {
	return e.transition(ctx, pctx, "follower", term, e.conf.FollowerSteps)
}

// ToInactive closes whatever role-specific steps are currently installed.
// Inactive installs nothing.
func (e *Engine) ToInactive(ctx context.Context, pctx *partition.Context) *actor.Future[*partition.Context] {
	return e.transition(ctx, pctx, "inactive", pctx.CurrentTerm, nil)
}

func (e *Engine) transition(ctx context.Context, pctx *partition.Context, targetRole string, term int64, steps []startup.Step[*partition.Context]) *actor.Future[*partition.Context] {
	fut := actor.NewFuture[*partition.Context]()

	go func() {
		e.mu.Lock()
		old := e.current
		e.mu.Unlock()

		next := pctx
		if old != nil {
			e.log.LogAttrs(ctx, slog.LevelDebug, "closing previous role steps",
				slog.String("target", targetRole), slog.Int64("term", term))
			v, err := old.Shutdown(ctx, pctx).Wait(ctx)
			if err != nil {
				e.log.Warn("role teardown reported errors; proceeding with install anyway",
					"target", targetRole, "error", err)
			}
			if v != nil {
				next = v
			}
		}

		np := startup.New(e.log, steps...)
		e.mu.Lock()
		e.current = np
		e.mu.Unlock()

		e.log.LogAttrs(ctx, slog.LevelDebug, "opening target role steps",
			slog.String("target", targetRole), slog.Int64("term", term), slog.Int("steps", len(steps)))
		v, err := np.Startup(ctx, next).Wait(ctx)
		fut.Complete(v, err)
	}()

	return fut
}

// Current reports the names of steps presently installed by the last
// settled transition, for diagnostics and tests.
func (e *Engine) Current() []string {
	e.mu.Lock()
	p := e.current
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Started()
}
