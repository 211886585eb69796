package health

import (
	"context"
	"log/slog"

	"github.com/kapetan-io/partlife/actor"
	"github.com/kapetan-io/tackle/clock"
	"github.com/kapetan-io/tackle/set"
)

// LevelDebugAll is used for high frequency, per-tick log lines that are only
// interesting when debugging the monitor itself, mirroring the teacher's
// LevelDebugAll / LevelDebug split used to separate routine chatter from
// one-off diagnostics.
const LevelDebugAll = slog.LevelDebug - 4

// DefaultTick is the period between health polls when Config.Tick is unset.
const DefaultTick = clock.Second

// Config configures a Monitor.
type Config struct {
	// Tick is the period between polls of every registered component.
	Tick clock.Duration
	// Clock provides the monitor's notion of time, overridable in tests.
	Clock *clock.Provider
	// Log is the logger used for monitor diagnostics.
	Log *slog.Logger
	// Name identifies this monitor in log lines, typically the owning
	// supervisor's partition/node identity.
	Name string
}

func (c *Config) setDefaults() {
	set.Default(&c.Tick, DefaultTick)
	set.Default(&c.Clock, clock.NewProvider())
	set.Default(&c.Log, slog.Default())
	set.Default(&c.Name, "health.Monitor")
}

type component struct {
	name   string
	source Monitorable
}

// Monitor tracks the health of a set of registered components, aggregates
// them into a single Status, and notifies listeners exactly once per status
// edge. All mutable state is owned by the monitor's own actor, so registering
// components, adding listeners, and running the periodic tick never race.
type Monitor struct {
	conf       Config
	log        *slog.Logger
	act        *actor.Actor
	order      []string
	components map[string]component
	listeners  []FailureListener
	status     Status
	cancelTick func()
}

// New creates a Monitor. The monitor does not begin polling until
// StartMonitoring is called, mirroring the spec's "created before any step
// runs; start_monitoring arms a periodic tick" lifecycle.
func New(conf Config) *Monitor {
	conf.setDefaults()
	m := &Monitor{
		conf:       conf,
		log:        conf.Log.With("code.namespace", "health.Monitor", "monitor", conf.Name),
		act:        actor.New(conf.Name, conf.Log, conf.Clock),
		components: make(map[string]component),
	}
	return m
}

// RegisterComponent adds source under name. Idempotent: a second call with
// the same name replaces the source but does not duplicate the ordering
// slot.
func (m *Monitor) RegisterComponent(ctx context.Context, name string, source Monitorable) {
	f := actor.Call(m.act, func() struct{} {
		if _, ok := m.components[name]; !ok {
			m.order = append(m.order, name)
		}
		m.components[name] = component{name: name, source: source}
		return struct{}{}
	})
	_, _ = f.Wait(ctx)
}

// RemoveComponent removes the component registered under name. No-op if
// absent.
func (m *Monitor) RemoveComponent(ctx context.Context, name string) {
	f := actor.Call(m.act, func() struct{} {
		if _, ok := m.components[name]; !ok {
			return struct{}{}
		}
		delete(m.components, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		return struct{}{}
	})
	_, _ = f.Wait(ctx)
}

// AddFailureListener registers l. A listener added while the aggregate
// status is not Healthy immediately receives OnFailure; one added while
// Healthy immediately receives OnRecovered, per the spec's late-join rule.
func (m *Monitor) AddFailureListener(ctx context.Context, l FailureListener) {
	f := actor.Call(m.act, func() struct{} {
		m.listeners = append(m.listeners, l)
		if m.status != Healthy {
			l.OnFailure(ctx)
		} else {
			l.OnRecovered(ctx)
		}
		return struct{}{}
	})
	_, _ = f.Wait(ctx)
}

// RemoveFailureListener unregisters l. No-op if absent.
func (m *Monitor) RemoveFailureListener(ctx context.Context, l FailureListener) {
	f := actor.Call(m.act, func() struct{} {
		for i, x := range m.listeners {
			if x == l {
				m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
				break
			}
		}
		return struct{}{}
	})
	_, _ = f.Wait(ctx)
}

// GetHealthStatus returns the current aggregated status.
func (m *Monitor) GetHealthStatus(ctx context.Context) Status {
	f := actor.Call(m.act, func() Status {
		return m.status
	})
	v, _ := f.Wait(ctx)
	return v
}

// StartMonitoring arms the periodic poll. Calling it more than once replaces
// the previous timer.
func (m *Monitor) StartMonitoring(ctx context.Context) {
	f := actor.Call(m.act, func() struct{} {
		if m.cancelTick != nil {
			m.cancelTick()
		}
		m.cancelTick = m.act.SchedulePeriodic(m.conf.Tick, m.tick)
		return struct{}{}
	})
	_, _ = f.Wait(ctx)
}

// Close stops the periodic tick and the monitor's executor.
func (m *Monitor) Close() {
	f := actor.Call(m.act, func() struct{} {
		if m.cancelTick != nil {
			m.cancelTick()
			m.cancelTick = nil
		}
		return struct{}{}
	})
	_, _ = f.Wait(context.Background())
	m.act.Stop()
}

func (m *Monitor) tick() {
	ctx := context.Background()
	next := Healthy
	any := false
	for _, name := range m.order {
		c, ok := m.components[name]
		if !ok {
			continue
		}
		any = true
		next = worst(next, c.source.GetHealthStatus(ctx))
	}
	if !any {
		next = Healthy
	}

	m.log.LogAttrs(ctx, LevelDebugAll, "health tick",
		slog.String("status", next.String()), slog.Int("components", len(m.order)))

	prev := m.status
	m.status = next
	if prev == next {
		return
	}

	if prev == Healthy && next != Healthy {
		for _, l := range m.listeners {
			l.OnFailure(ctx)
		}
	}
	if prev != Healthy && next == Healthy {
		for _, l := range m.listeners {
			l.OnRecovered(ctx)
		}
	}
	if next == Dead && prev != Dead {
		for _, l := range m.listeners {
			l.OnUnrecoverableFailure(ctx)
		}
	}
}
