package startup_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kapetan-io/partlife/startup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	step string
	kind string // "open" or "close"
}

type recordingStep struct {
	name      string
	openErr   error
	openDelay time.Duration
	events    *[]event
	mu        *sync.Mutex
}

func (s recordingStep) Name() string { return s.name }

func (s recordingStep) Open(ctx context.Context, c int) (int, error) {
	if s.openDelay > 0 {
		time.Sleep(s.openDelay)
	}
	s.mu.Lock()
	*s.events = append(*s.events, event{s.name, "open"})
	s.mu.Unlock()
	if s.openErr != nil {
		return c, s.openErr
	}
	return c + 1, nil
}

func (s recordingStep) Close(ctx context.Context, c int) (int, error) {
	s.mu.Lock()
	*s.events = append(*s.events, event{s.name, "close"})
	s.mu.Unlock()
	return c - 1, nil
}

func newHarness() (*[]event, *sync.Mutex) {
	events := make([]event, 0)
	return &events, &sync.Mutex{}
}

func TestStartupThenShutdownReversesOrder(t *testing.T) {
	events, mu := newHarness()
	a := recordingStep{name: "A", events: events, mu: mu}
	b := recordingStep{name: "B", events: events, mu: mu}
	c := recordingStep{name: "C", events: events, mu: mu}

	p := startup.New[int](nil, a, b, c)
	ctx := context.Background()

	ctxVal, err := p.Startup(ctx, 0).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, ctxVal)

	ctxVal, err = p.Shutdown(ctx, ctxVal).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, ctxVal)

	names := func(kind string) []string {
		var out []string
		for _, e := range *events {
			if e.kind == kind {
				out = append(out, e.step)
			}
		}
		return out
	}
	assert.Equal(t, []string{"A", "B", "C"}, names("open"))
	assert.Equal(t, []string{"C", "B", "A"}, names("close"))
}

func TestStartupFailureLeavesOnlyOpenedStepsForShutdown(t *testing.T) {
	events, mu := newHarness()
	a := recordingStep{name: "A", events: events, mu: mu}
	b := recordingStep{name: "B", events: events, mu: mu, openErr: assertErr}
	c := recordingStep{name: "C", events: events, mu: mu}

	p := startup.New[int](nil, a, b, c)
	ctx := context.Background()

	_, err := p.Startup(ctx, 0).Wait(ctx)
	require.ErrorIs(t, err, assertErr)

	assert.Equal(t, []string{"A"}, p.Started())

	_, err = p.Shutdown(ctx, 1).Wait(ctx)
	require.NoError(t, err)

	var closed []string
	for _, e := range *events {
		if e.kind == "close" {
			closed = append(closed, e.step)
		}
	}
	assert.Equal(t, []string{"A"}, closed)
}

func TestConcurrentShutdownsReturnSameFuture(t *testing.T) {
	events, mu := newHarness()
	a := recordingStep{name: "A", events: events, mu: mu}
	p := startup.New[int](nil, a)
	ctx := context.Background()

	_, err := p.Startup(ctx, 0).Wait(ctx)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]int, 10)
	errs := make([]error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := p.Shutdown(ctx, 1).Wait(ctx)
			results[i] = v
			errs[i] = err
		}(i)
	}
	wg.Wait()

	closes := 0
	for _, e := range *events {
		if e.kind == "close" {
			closes++
		}
	}
	assert.Equal(t, 1, closes)
	for i := 0; i < 10; i++ {
		assert.NoError(t, errs[i])
		assert.Equal(t, 0, results[i])
	}
}

func TestShutdownBeforeStartupFails(t *testing.T) {
	p := startup.New[int](nil)
	ctx := context.Background()
	_, err := p.Shutdown(ctx, 0).Wait(ctx)
	require.ErrorIs(t, err, startup.ErrNotStarted)
}

func TestSecondStartupFails(t *testing.T) {
	events, mu := newHarness()
	a := recordingStep{name: "A", events: events, mu: mu}
	p := startup.New[int](nil, a)
	ctx := context.Background()

	_, err := p.Startup(ctx, 0).Wait(ctx)
	require.NoError(t, err)

	_, err = p.Startup(ctx, 0).Wait(ctx)
	require.ErrorIs(t, err, startup.ErrAlreadyStarted)
}

func TestShutdownInterleavedWithStartupAbortsRemainingSteps(t *testing.T) {
	events, mu := newHarness()
	a := recordingStep{name: "A", events: events, mu: mu}
	b := recordingStep{name: "B", events: events, mu: mu, openDelay: 50 * time.Millisecond}
	c := recordingStep{name: "C", events: events, mu: mu}

	p := startup.New[int](nil, a, b, c)
	ctx := context.Background()

	startupFut := p.Startup(ctx, 0)
	// Give A a chance to open and B to begin before requesting shutdown.
	time.Sleep(10 * time.Millisecond)

	_, shutdownErr := p.Shutdown(ctx, 0).Wait(ctx)
	require.NoError(t, shutdownErr)

	_, startErr := startupFut.Wait(ctx)
	require.ErrorIs(t, startErr, startup.ErrAborted)

	var opened, closed []string
	for _, e := range *events {
		if e.kind == "open" {
			opened = append(opened, e.step)
		} else {
			closed = append(closed, e.step)
		}
	}
	assert.Equal(t, []string{"A", "B"}, opened)
	assert.Equal(t, []string{"B", "A"}, closed)
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
