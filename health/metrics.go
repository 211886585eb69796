package health

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics mirrors a FailureListener but drives a set of Prometheus gauges
// instead of routing back into supervisor recovery logic, the way the
// teacher's daemon registers a prometheus.Registry alongside its HTTP
// handler rather than threading metrics through business logic.
type Metrics struct {
	status *prometheus.GaugeVec
	edges  *prometheus.CounterVec
	name   string
}

var _ FailureListener = (*Metrics)(nil)

// NewMetrics creates a Metrics collaborator identified by name (typically
// "partition-<id>") and registers its collectors with reg.
func NewMetrics(reg prometheus.Registerer, name string) *Metrics {
	m := &Metrics{
		name: name,
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "partlife_health_status",
			Help: "Current aggregated health status (0=healthy, 1=unhealthy, 2=dead) per monitor.",
		}, []string{"monitor"}),
		edges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "partlife_health_edges_total",
			Help: "Count of health status edge transitions observed per monitor and kind.",
		}, []string{"monitor", "edge"}),
	}
	reg.MustRegister(m.status, m.edges)
	return m
}

// OnFailure implements FailureListener.
func (m *Metrics) OnFailure(_ context.Context) {
	m.status.WithLabelValues(m.name).Set(float64(Unhealthy))
	m.edges.WithLabelValues(m.name, "failure").Inc()
}

// OnRecovered implements FailureListener.
func (m *Metrics) OnRecovered(_ context.Context) {
	m.status.WithLabelValues(m.name).Set(float64(Healthy))
	m.edges.WithLabelValues(m.name, "recovered").Inc()
}

// OnUnrecoverableFailure implements FailureListener.
func (m *Metrics) OnUnrecoverableFailure(_ context.Context) {
	m.status.WithLabelValues(m.name).Set(float64(Dead))
	m.edges.WithLabelValues(m.name, "unrecoverable").Inc()
}
