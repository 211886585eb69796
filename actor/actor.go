// Package actor provides a single-threaded cooperative executor used by the
// partition supervisor and its collaborators to serialize state mutation
// without taking locks. It is the Go analogue of the teacher's channel-driven
// request loop (see internal/logical.go's Logical.requestLoop in the
// kapetan-io/querator lineage this module grew out of): one goroutine reads
// from a work channel and runs every submitted closure to completion before
// picking up the next one.
package actor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kapetan-io/tackle/clock"
)

// Future is the result of work submitted to an Actor via Call. It resolves
// exactly once, either with a value or an error.
type Future[T any] struct {
	ch  chan struct{}
	val T
	err error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{ch: make(chan struct{})}
}

// NewFuture creates a standalone, uncompleted Future. It is exported so
// collaborators that need the same single-resolution completion handle
// outside of an Actor's own Call/CallErr (startup processes and transition
// engines chaining several async steps together) can reuse one primitive
// instead of hand-rolling a channel-and-once pair.
func NewFuture[T any]() *Future[T] {
	return newFuture[T]()
}

func (f *Future[T]) complete(val T, err error) {
	f.val, f.err = val, err
	close(f.ch)
}

// Complete resolves f with val and err. It must only be called once; a
// second call panics on the already-closed channel, the same contract a
// promise has in the source material this actor is modelled on.
func (f *Future[T]) Complete(val T, err error) {
	f.complete(val, err)
}

// Wait blocks until the future resolves or ctx is cancelled.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.ch:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done returns a channel that is closed once the future resolves, so callers
// can multiplex waiting on several futures in a select statement.
func (f *Future[T]) Done() <-chan struct{} {
	return f.ch
}

// Result returns the resolved value and error. It must only be called after
// Done() has been observed closed.
func (f *Future[T]) Result() (T, error) {
	return f.val, f.err
}

// ErrPanic wraps a closure panic recovered by the Actor. Once an Actor has
// observed a panic it is dead: every future still queued or submitted
// afterwards resolves with this error.
type ErrPanic struct {
	Recovered any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("actor: closure panicked: %v", e.Recovered)
}

type job struct {
	run func()
}

// Actor serializes closures submitted from any goroutine onto a single
// background goroutine. Closures run in submission order; no two run
// concurrently. A closure must not block natively - if it needs to wait on
// I/O it should return control and let the caller resume the actor via
// another Run/Call once the I/O completes.
type Actor struct {
	name   string
	log    *slog.Logger
	clock  *clock.Provider
	workCh chan job
	dead   atomic.Bool
	deadMu sync.RWMutex
	deadly error
	wg     sync.WaitGroup
	stopCh chan struct{}
	stopWg sync.WaitGroup
}

// New creates an Actor and starts its background goroutine. name identifies
// the actor in log lines; clk lets callers inject a fake clock for
// deterministic tests of SchedulePeriodic.
func New(name string, log *slog.Logger, clk *clock.Provider) *Actor {
	if clk == nil {
		clk = clock.NewProvider()
	}
	a := &Actor{
		name:   name,
		log:    log,
		clock:  clk,
		workCh: make(chan job),
		stopCh: make(chan struct{}),
	}
	a.stopWg.Add(1)
	go a.loop()
	return a
}

func (a *Actor) loop() {
	defer a.stopWg.Done()
	for {
		select {
		case j := <-a.workCh:
			a.exec(j.run)
		case <-a.stopCh:
			return
		}
	}
}

func (a *Actor) exec(run func()) {
	defer func() {
		if r := recover(); r != nil {
			err := &ErrPanic{Recovered: r}
			a.log.Error("actor: closure panicked; actor is now dead", "actor", a.name, "panic", r)
			a.deadMu.Lock()
			a.deadly = err
			a.deadMu.Unlock()
			a.dead.Store(true)
		}
	}()
	run()
}

// Run submits fn for fire-and-forget execution. It never blocks the caller
// beyond handing the closure to the actor's channel.
func (a *Actor) Run(fn func()) {
	if a.dead.Load() {
		return
	}
	select {
	case a.workCh <- job{run: fn}:
	case <-a.stopCh:
	}
}

// Call submits fn and returns a Future that resolves with fn's return value.
// If the actor is already dead, the future resolves immediately with the
// panic that killed it.
func Call[T any](a *Actor, fn func() T) *Future[T] {
	f := newFuture[T]()
	if a.dead.Load() {
		a.deadMu.RLock()
		err := a.deadly
		a.deadMu.RUnlock()
		var zero T
		f.complete(zero, err)
		return f
	}
	a.Run(func() {
		f.complete(fn(), nil)
	})
	return f
}

// CallErr is Call specialized for the common case of a closure that may fail.
func CallErr[T any](a *Actor, fn func() (T, error)) *Future[T] {
	f := newFuture[T]()
	if a.dead.Load() {
		a.deadMu.RLock()
		err := a.deadly
		a.deadMu.RUnlock()
		var zero T
		f.complete(zero, err)
		return f
	}
	a.Run(func() {
		v, err := fn()
		f.complete(v, err)
	})
	return f
}

// SchedulePeriodic arms a timer that invokes fn every interval. The timer is
// armed before SchedulePeriodic returns and is re-armed each time it fires,
// before fn is handed to the actor; because the actor runs closures one at a
// time, a slow tick never overlaps the next one. It returns a Cancel func
// that stops the timer; the timer is driven by the Actor's clock provider so
// tests may use a fake clock.
func (a *Actor) SchedulePeriodic(interval clock.Duration, fn func()) (cancel func()) {
	stop := make(chan struct{})
	timer := a.clock.NewTimer(interval)
	a.stopWg.Add(1)
	go func() {
		defer a.stopWg.Done()
		defer timer.Stop()
		for {
			select {
			case <-timer.C():
				timer.Reset(interval)
				a.Run(fn)
			case <-stop:
				return
			case <-a.stopCh:
				return
			}
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() { close(stop) })
	}
}

// RunOnCompletion invokes fn, on the actor, once every future in futures has
// resolved. fn receives the first error encountered, if any, or nil if all
// futures succeeded. Order of resolution among futures does not matter.
func RunOnCompletion[T any](a *Actor, futures []*Future[T], fn func(err error)) {
	if len(futures) == 0 {
		a.Run(func() { fn(nil) })
		return
	}
	go func() {
		var firstErr error
		for _, f := range futures {
			_, err := f.Wait(context.Background())
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		a.Run(func() { fn(firstErr) })
	}()
}

// Stop halts the background goroutine and any periodic timers. It does not
// wait for in-flight work queued before the call; callers that need a clean
// drain should Call a final no-op closure first.
func (a *Actor) Stop() {
	close(a.stopCh)
	a.stopWg.Wait()
}

// Name returns the actor's identifying name, used in log lines by owners.
func (a *Actor) Name() string {
	return a.name
}
