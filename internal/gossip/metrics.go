package gossip

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks gossip traffic, grounded on the teacher's
// pkg/gossip/metrics.go shape.
type Metrics struct {
	Sent       prometheus.Counter
	Forwarded  prometheus.Counter
	Duplicate  prometheus.Counter
	RepliesNew prometheus.Counter
}

func newMetrics() *Metrics {
	return &Metrics{
		Sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "gossip",
			Name:      "messages_sent_total",
			Help:      "Total number of heartbeat datagrams sent (periodic and bootstrap announces).",
		}),
		Forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "gossip",
			Name:      "messages_forwarded_total",
			Help:      "Total number of gossip datagrams forwarded to other peers.",
		}),
		Duplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "gossip",
			Name:      "messages_duplicate_total",
			Help:      "Total number of gossip datagrams dropped as already-seen.",
		}),
		RepliesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "omnode",
			Subsystem: "gossip",
			Name:      "replies_to_new_peer_total",
			Help:      "Total number of direct replies sent to a previously-unknown peer.",
		}),
	}
}

// Register adds every metric to reg. Safe to call with a nil reg, which
// skips registration (used when metrics are disabled).
func (m *Metrics) Register(reg *prometheus.Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(m.Sent, m.Forwarded, m.Duplicate, m.RepliesNew)
}

// NewMetrics constructs and optionally registers a Metrics instance.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := newMetrics()
	m.Register(reg)
	return m
}
