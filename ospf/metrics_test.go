package ospf

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := NewMetrics(reg)

	h := newHarness(t, "1.1.1.1", "2.2.2.2", testConfig("eth0", InterfacePointToPoint, "10.0.0.1/30"))
	h.r.metrics = m

	// The harness neighbor was created before the metrics were attached.
	m.neighborAdded(nDown)

	h.toExStart(t)
	h.s.RunFor(h.iface.RxmtInterval)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("HelloReceived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("2-WayReceived")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Down", "Init")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("Init", "ExStart")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retransmissions.WithLabelValues("dd")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.packetsSent.WithLabelValues("Database Description")))

	expected := `
# HELP ospf_neighbors Neighbors by state.
# TYPE ospf_neighbors gauge
ospf_neighbors{state="Down"} 0
ospf_neighbors{state="ExStart"} 1
ospf_neighbors{state="Init"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "ospf_neighbors"))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.event(neStart)
		m.transition(nDown, nInit)
		m.neighborAdded(nDown)
		m.neighborRemoved(nDown)
		m.retransmission("dd")
		m.packetSent(TypeHello)
	})
}
