package health_test

import (
	"context"
	"sync"
	"testing"

	"github.com/kapetan-io/partlife/health"
	"github.com/kapetan-io/tackle/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	status health.Status
}

func (f *fakeSource) set(s health.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

func (f *fakeSource) GetHealthStatus(context.Context) health.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type recordingListener struct {
	mu            sync.Mutex
	failures      int
	recoveries    int
	unrecoverable int
}

func (r *recordingListener) OnFailure(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
}

func (r *recordingListener) OnRecovered(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recoveries++
}

func (r *recordingListener) OnUnrecoverableFailure(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unrecoverable++
}

func (r *recordingListener) snapshot() (int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures, r.recoveries, r.unrecoverable
}

func TestMonitorZeroComponentsIsHealthy(t *testing.T) {
	ctx := context.Background()
	m := health.New(health.Config{})
	defer m.Close()
	assert.Equal(t, health.Healthy, m.GetHealthStatus(ctx))
}

func TestMonitorAggregatesWorstChild(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewProvider()
	clk.Freeze(clock.Now())
	m := health.New(health.Config{Clock: clk, Tick: clock.Second})
	defer m.Close()

	a := &fakeSource{status: health.Healthy}
	b := &fakeSource{status: health.Unhealthy}
	m.RegisterComponent(ctx, "a", a)
	m.RegisterComponent(ctx, "b", b)
	m.StartMonitoring(ctx)

	clk.Advance(clock.Second)
	require.Eventually(t, func() bool {
		return m.GetHealthStatus(ctx) == health.Unhealthy
	}, clock.Second, clock.Millisecond)

	b.set(health.Dead)
	clk.Advance(clock.Second)
	require.Eventually(t, func() bool {
		return m.GetHealthStatus(ctx) == health.Dead
	}, clock.Second, clock.Millisecond)
}

func TestMonitorListenerEdgesFireOncePerTransition(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewProvider()
	clk.Freeze(clock.Now())
	m := health.New(health.Config{Clock: clk, Tick: clock.Second})
	defer m.Close()

	src := &fakeSource{status: health.Healthy}
	m.RegisterComponent(ctx, "only", src)

	l := &recordingListener{}
	m.AddFailureListener(ctx, l)
	f, r, u := l.snapshot()
	// Added while Healthy: immediate OnRecovered, per the late-join rule.
	assert.Equal(t, 0, f)
	assert.Equal(t, 1, r)
	assert.Equal(t, 0, u)

	m.StartMonitoring(ctx)

	src.set(health.Unhealthy)
	clk.Advance(clock.Second)
	require.Eventually(t, func() bool {
		f, _, _ := l.snapshot()
		return f == 1
	}, clock.Second, clock.Millisecond)

	// Staying Unhealthy across further ticks must not re-fire OnFailure.
	clk.Advance(clock.Second)
	clk.Advance(clock.Second)
	f, r, u = l.snapshot()
	assert.Equal(t, 1, f)
	assert.Equal(t, 1, r)
	assert.Equal(t, 0, u)

	src.set(health.Healthy)
	clk.Advance(clock.Second)
	require.Eventually(t, func() bool {
		_, r, _ := l.snapshot()
		return r == 2
	}, clock.Second, clock.Millisecond)
}

func TestMonitorDeadTriggersUnrecoverable(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewProvider()
	clk.Freeze(clock.Now())
	m := health.New(health.Config{Clock: clk, Tick: clock.Second})
	defer m.Close()

	src := &fakeSource{status: health.Healthy}
	m.RegisterComponent(ctx, "only", src)
	l := &recordingListener{}
	m.AddFailureListener(ctx, l)
	m.StartMonitoring(ctx)

	src.set(health.Dead)
	clk.Advance(clock.Second)
	require.Eventually(t, func() bool {
		_, _, u := l.snapshot()
		return u == 1
	}, clock.Second, clock.Millisecond)
	f, _, u := l.snapshot()
	assert.Equal(t, 1, f)
	assert.Equal(t, 1, u)
}

func TestMonitorLateJoinWhileUnhealthyGetsImmediateFailure(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewProvider()
	clk.Freeze(clock.Now())
	m := health.New(health.Config{Clock: clk, Tick: clock.Second})
	defer m.Close()

	src := &fakeSource{status: health.Unhealthy}
	m.RegisterComponent(ctx, "only", src)
	m.StartMonitoring(ctx)
	clk.Advance(clock.Second)
	require.Eventually(t, func() bool {
		return m.GetHealthStatus(ctx) == health.Unhealthy
	}, clock.Second, clock.Millisecond)

	l := &recordingListener{}
	m.AddFailureListener(ctx, l)
	f, r, _ := l.snapshot()
	assert.Equal(t, 1, f)
	assert.Equal(t, 0, r)
}

func TestMonitorRemoveComponentIsNoOpIfAbsent(t *testing.T) {
	ctx := context.Background()
	m := health.New(health.Config{})
	defer m.Close()
	m.RemoveComponent(ctx, "nope")
	assert.Equal(t, health.Healthy, m.GetHealthStatus(ctx))
}
