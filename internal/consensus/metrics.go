package consensus

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks round lifecycle counts, grounded on the teacher's
// pkg/gossip/metrics.go shape.
type Metrics struct {
	RoundsStarted  prometheus.Counter
	RoundsReceived prometheus.Counter
	RoundsResolved prometheus.Counter
	RoundsExpired  prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		RoundsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "consensus",
			Name:      "rounds_started_total",
			Help:      "Total number of root consensus rounds started by this node.",
		}),
		RoundsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "consensus",
			Name:      "rounds_received_total",
			Help:      "Total number of consensus forwards this node has participated in.",
		}),
		RoundsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "consensus",
			Name:      "rounds_resolved_total",
			Help:      "Total number of rounds (participant and relay) resolved by this node.",
		}),
		RoundsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "consensus",
			Name:      "rounds_expired_total",
			Help:      "Total number of rounds force-resolved after their deadline elapsed.",
		}),
	}
}

// Register adds every metric to reg, skipping registration if reg is nil.
func (m *Metrics) Register(reg *prometheus.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(m.RoundsStarted, m.RoundsReceived, m.RoundsResolved, m.RoundsExpired)
}

// NewMetrics constructs and optionally registers a Metrics instance.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := newMetrics()
	m.Register(reg)
	return m
}
