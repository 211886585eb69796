// Package startup runs an ordered sequence of install/teardown steps for a
// partition role or for the fixed set of bootstrap services, enforcing the
// startup-once / reverse-order-shutdown / partial-failure-recovery
// invariants described for the partition lifecycle core.
package startup

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"

	"github.com/kapetan-io/errors"
	"github.com/kapetan-io/partlife/actor"
	"github.com/kapetan-io/tackle/clock"
)

// ErrAlreadyStarted is returned when Startup is called a second time on the
// same Process.
var ErrAlreadyStarted = errors.New("startup: Startup already called")

// ErrNotStarted is returned when Shutdown is called before Startup.
var ErrNotStarted = errors.New("startup: Shutdown called before Startup")

// ErrAborted is the error a pending Startup future resolves with when a
// Shutdown races it mid-startup.
var ErrAborted = errors.New("startup: aborted by shutdown")

// Step is a single unit of install/teardown work over a context value C. Its
// Open may populate fields on C (e.g. attach a handle); its Close must
// reverse whatever Open did and must tolerate being called on a step whose
// Open never ran to completion (the contract from the spec: "close must be
// safe to call on a partially opened step").
type Step[C any] interface {
	Name() string
	Open(ctx context.Context, c C) (C, error)
	Close(ctx context.Context, c C) (C, error)
}

// FuncStep adapts two plain functions into a Step, for steps simple enough
// not to warrant their own named type.
type FuncStep[C any] struct {
	StepName  string
	OpenFunc  func(ctx context.Context, c C) (C, error)
	CloseFunc func(ctx context.Context, c C) (C, error)
}

func (f FuncStep[C]) Name() string { return f.StepName }

func (f FuncStep[C]) Open(ctx context.Context, c C) (C, error) {
	if f.OpenFunc == nil {
		return c, nil
	}
	return f.OpenFunc(ctx, c)
}

func (f FuncStep[C]) Close(ctx context.Context, c C) (C, error) {
	if f.CloseFunc == nil {
		return c, nil
	}
	return f.CloseFunc(ctx, c)
}

// Process runs Steps in order on Startup and in strict reverse on Shutdown.
// A single Process instance is one-shot: Startup may only be called once,
// and Shutdown may only tear down what that one Startup call opened.
//
// Process does not serialize its own calls the way the spec's JVM source
// runs everything through an actor - callers (the transition engine, the
// partition supervisor's bootstrap sequence) are themselves actor-bound and
// are responsible for calling Startup/Shutdown from a single logical
// sequence. Process only enforces the one-shot/reverse-order invariants.
type Process[C any] struct {
	steps []Step[C]
	log   *slog.Logger

	mu            sync.Mutex
	startupCalled bool
	started       []Step[C]
	startupFuture *actor.Future[C]
	shutdownFut   *actor.Future[C]
}

// New builds a Process over steps, run in the given order on Startup and in
// reverse on Shutdown.
func New[C any](log *slog.Logger, steps ...Step[C]) *Process[C] {
	if log == nil {
		log = slog.Default()
	}
	return &Process[C]{
		steps: steps,
		log:   log.With("code.namespace", "startup.Process"),
	}
}

// Startup opens every step in order. The returned future resolves with the
// final context once every step has opened successfully, or exceptionally on
// the first step that fails to open (the steps opened before it remain in
// Process's internal stack so a subsequent Shutdown tears them down).
func (p *Process[C]) Startup(ctx context.Context, c C) *actor.Future[C] {
	fut := actor.NewFuture[C]()

	p.mu.Lock()
	if p.startupCalled {
		p.mu.Unlock()
		var zero C
		fut.Complete(zero, ErrAlreadyStarted)
		return fut
	}
	p.startupCalled = true
	p.startupFuture = fut
	remaining := make([]Step[C], len(p.steps))
	copy(remaining, p.steps)
	p.mu.Unlock()

	go p.proceedStartup(ctx, remaining, c)
	return fut
}

func (p *Process[C]) proceedStartup(ctx context.Context, remaining []Step[C], c C) {
	p.mu.Lock()
	aborting := p.shutdownFut != nil
	p.mu.Unlock()
	if aborting {
		var zero C
		p.startupFuture.Complete(zero, ErrAborted)
		return
	}

	if len(remaining) == 0 {
		p.startupFuture.Complete(c, nil)
		return
	}

	step := remaining[0]
	p.mu.Lock()
	p.started = append(p.started, step)
	idx := len(p.started) - 1
	p.mu.Unlock()

	p.log.LogAttrs(ctx, slog.LevelDebug, "opening step", slog.String("step", step.Name()))
	next, err := step.Open(ctx, c)
	if err != nil {
		p.log.Warn("step open failed", "step", step.Name(), "error", err)
		// The failed step never opened, so it leaves the stack a later
		// Shutdown tears down (unless a racing Shutdown already popped it).
		p.mu.Lock()
		if len(p.started) == idx+1 {
			p.started = p.started[:idx]
		}
		p.mu.Unlock()
		var zero C
		p.startupFuture.Complete(zero, err)
		return
	}

	p.proceedStartup(ctx, remaining[1:], next)
}

// Shutdown tears down every opened step in strict reverse of the order it
// was opened, collecting rather than short-circuiting on errors. A second
// and subsequent call returns the same future as the first.
func (p *Process[C]) Shutdown(ctx context.Context, c C) *actor.Future[C] {
	p.mu.Lock()
	if !p.startupCalled {
		p.mu.Unlock()
		fut := actor.NewFuture[C]()
		var zero C
		fut.Complete(zero, ErrNotStarted)
		return fut
	}
	if p.shutdownFut != nil {
		fut := p.shutdownFut
		p.mu.Unlock()
		return fut
	}
	fut := actor.NewFuture[C]()
	p.shutdownFut = fut
	p.mu.Unlock()

	go p.proceedShutdown(ctx, c, nil)
	return fut
}

func (p *Process[C]) proceedShutdown(ctx context.Context, c C, collected []error) {
	p.mu.Lock()
	n := len(p.started)
	p.mu.Unlock()

	if n == 0 {
		switch len(collected) {
		case 0:
			p.shutdownFut.Complete(c, nil)
		case 1:
			p.shutdownFut.Complete(c, collected[0])
		default:
			p.shutdownFut.Complete(c, stderrors.Join(collected...))
		}
		return
	}

	p.mu.Lock()
	step := p.started[n-1]
	p.started = p.started[:n-1]
	p.mu.Unlock()

	p.log.LogAttrs(ctx, slog.LevelDebug, "closing step", slog.String("step", step.Name()))
	next, err := step.Close(ctx, c)
	if err != nil {
		p.log.Warn("step close failed; continuing shutdown", "step", step.Name(), "error", err)
		collected = append(collected, err)
		// Close must be safe to retry reporting against whatever context
		// value it received; on error we keep the caller's last-known-good
		// context rather than a possibly-invalid partial result.
		p.proceedShutdown(ctx, c, collected)
		return
	}

	p.proceedShutdown(ctx, next, collected)
}

// WithTimeout wraps step so Open is bounded by timeout, matching the
// step_open_timeout configuration option: a step whose own Open never
// returns (and does not otherwise respect ctx cancellation) still causes the
// startup future to fail rather than hang the process forever. Close is left
// unwrapped since shutdown never short-circuits on step failures already.
func WithTimeout[C any](step Step[C], timeout clock.Duration) Step[C] {
	if timeout <= 0 {
		return step
	}
	return timeoutStep[C]{inner: step, timeout: timeout}
}

type timeoutStep[C any] struct {
	inner   Step[C]
	timeout clock.Duration
}

func (t timeoutStep[C]) Name() string { return t.inner.Name() }

func (t timeoutStep[C]) Open(ctx context.Context, c C) (C, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	type result struct {
		c   C
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := t.inner.Open(ctx, c)
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.c, r.err
	case <-ctx.Done():
		return c, ctx.Err()
	}
}

func (t timeoutStep[C]) Close(ctx context.Context, c C) (C, error) {
	return t.inner.Close(ctx, c)
}

// Started reports the names of the steps currently opened (i.e. that would
// be closed by a Shutdown called right now), in open order. Intended for
// diagnostics and tests, not control flow.
func (p *Process[C]) Started() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, len(p.started))
	for i, s := range p.started {
		names[i] = s.Name()
	}
	return names
}
