package ospf

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are shared by every router that is given them. A nil *Metrics
// records nothing.
type Metrics struct {
	events          *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	neighbors       *prometheus.GaugeVec
	retransmissions *prometheus.CounterVec
	packetsSent     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospf",
			Name:      "neighbor_events_total",
			Help:      "Neighbor state machine events.",
		}, []string{"event"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospf",
			Name:      "neighbor_transitions_total",
			Help:      "Neighbor state transitions.",
		}, []string{"from", "to"}),
		neighbors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ospf",
			Name:      "neighbors",
			Help:      "Neighbors by state.",
		}, []string{"state"}),
		retransmissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospf",
			Name:      "retransmissions_total",
			Help:      "Retransmissions by kind (dd, update, request).",
		}, []string{"kind"}),
		packetsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ospf",
			Name:      "packets_sent_total",
			Help:      "Packets sent by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(m.events, m.transitions, m.neighbors, m.retransmissions, m.packetsSent)

	return m
}

func (m *Metrics) event(e neighborEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(e.String()).Inc()
}

func (m *Metrics) transition(from, to neighborState) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.neighbors.WithLabelValues(from.String()).Dec()
	m.neighbors.WithLabelValues(to.String()).Inc()
}

func (m *Metrics) neighborAdded(s neighborState) {
	if m == nil {
		return
	}
	m.neighbors.WithLabelValues(s.String()).Inc()
}

func (m *Metrics) neighborRemoved(s neighborState) {
	if m == nil {
		return
	}
	m.neighbors.WithLabelValues(s.String()).Dec()
}

func (m *Metrics) retransmission(kind string) {
	if m == nil {
		return
	}
	m.retransmissions.WithLabelValues(kind).Inc()
}

func (m *Metrics) packetSent(t messageType) {
	if m == nil {
		return
	}
	m.packetsSent.WithLabelValues(t.String()).Inc()
}
