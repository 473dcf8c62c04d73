package cli

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks CLI session counts, grounded on the teacher's
// pkg/gossip/metrics.go shape.
type Metrics struct {
	SessionsAccepted prometheus.Counter
	SessionsActive   prometheus.Gauge
	CommandsHandled  prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		SessionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "cli",
			Name:      "sessions_accepted_total",
			Help:      "Total number of CLI TCP sessions accepted.",
		}),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "omnode",
			Subsystem: "cli",
			Name:      "sessions_active",
			Help:      "Number of CLI TCP sessions currently open.",
		}),
		CommandsHandled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "cli",
			Name:      "commands_handled_total",
			Help:      "Total number of CLI commands dispatched.",
		}),
	}
}

// Register adds every metric to reg, skipping registration if reg is nil.
func (m *Metrics) Register(reg *prometheus.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(m.SessionsAccepted, m.SessionsActive, m.CommandsHandled)
}

// NewMetrics constructs and optionally registers a Metrics instance.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := newMetrics()
	m.Register(reg)
	return m
}
