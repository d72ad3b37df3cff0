package ospf

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/sched"
)

func newTestArea(t *testing.T) (*sched.Sim, *Router, *Area) {
	t.Helper()

	s := sched.NewSim()
	r := NewRouter(rid("1.1.1.1"), s)
	return s, r, r.Area(common.Backbone)
}

// fullNeighborOn attaches a neighbor in state Full to iface.
func fullNeighborOn(iface *Interface, id string) *Neighbor {
	addr := iface.Prefix.Addr().Next()
	n := newNeighbor(iface, rid(id), addr)
	n.handler = fullState{}
	iface.neighbors[iface.neighborKey(addr, n.ID)] = n
	return n
}

func externalLSA(adv, id string, seq int32) *LSA {
	return NewLSA(LSAHeader{
		Options:           optE,
		Type:              LSTypeASExternal,
		ID:                netip.MustParseAddr(id),
		AdvertisingRouter: rid(adv),
		SequenceNumber:    seq,
	}, make([]byte, 16))
}

func ownRouterLSA(t *testing.T, a *Area) *LSA {
	t.Helper()

	id := a.router.ID
	lsa, ok := a.Lookup(LSAKey{Type: LSTypeRouter, ID: id.Addr(), AdvertisingRouter: id})
	require.True(t, ok)
	return lsa
}

func TestInstallValidates(t *testing.T) {
	_, _, a := newTestArea(t)

	bad := routerLSA("2.2.2.2", 1, 1, 2, 3, 4)
	bad.Body[0] = 7
	assert.Error(t, a.Install(bad))

	invalid := routerLSA("2.2.2.2", 1)
	invalid.Type = 12
	assert.Error(t, a.Install(invalid))

	assert.NoError(t, a.Install(routerLSA("2.2.2.2", 1)))
	assert.Len(t, a.Headers(), 1)
}

func TestLookupReturnsCopy(t *testing.T) {
	_, _, a := newTestArea(t)
	require.NoError(t, a.Install(routerLSA("2.2.2.2", 1, 1, 2, 3, 4)))

	lsa, ok := a.Lookup(routerLSA("2.2.2.2", 1).Key())
	require.True(t, ok)
	lsa.Body[0] = 9
	lsa.Age = 100

	again, _ := a.Lookup(lsa.Key())
	assert.Equal(t, byte(1), again.Body[0])
	assert.Equal(t, uint16(0), again.Age)
}

func TestIsFresherThanLocal(t *testing.T) {
	_, _, a := newTestArea(t)
	require.NoError(t, a.Install(routerLSA("2.2.2.2", 5)))

	older := routerLSA("2.2.2.2", 4).LSAHeader
	same := routerLSA("2.2.2.2", 5).LSAHeader
	newer := routerLSA("2.2.2.2", 6).LSAHeader
	missing := routerLSA("3.3.3.3", 1).LSAHeader

	assert.False(t, a.IsFresherThanLocal(&older))
	assert.False(t, a.IsFresherThanLocal(&same))
	assert.True(t, a.IsFresherThanLocal(&newer))
	assert.True(t, a.IsFresherThanLocal(&missing))
}

func TestRecentlyInstalled(t *testing.T) {
	s, _, a := newTestArea(t)
	lsa := routerLSA("2.2.2.2", 5)
	require.NoError(t, a.Install(lsa))

	assert.True(t, a.RecentlyInstalled(lsa.Key()))
	assert.False(t, a.RecentlyInstalled(routerLSA("3.3.3.3", 1).Key()))

	s.RunFor(time.Second)
	assert.False(t, a.RecentlyInstalled(lsa.Key()))
}

func TestSummaryExclusions(t *testing.T) {
	_, _, a := newTestArea(t)

	dead := summaryLSA("3.3.3.3", "10.3.0.0", 2)
	dead.Age = MaxAge

	require.NoError(t, a.Install(routerLSA("2.2.2.2", 1)))
	require.NoError(t, a.Install(externalLSA("2.2.2.2", "192.0.2.0", 1)))
	require.NoError(t, a.Install(dead))

	var types []LSType
	for _, h := range a.Summary(true) {
		types = append(types, h.Type)
	}
	assert.Equal(t, []LSType{LSTypeRouter, LSTypeASExternal}, types)

	types = nil
	for _, h := range a.Summary(false) {
		types = append(types, h.Type)
	}
	assert.Equal(t, []LSType{LSTypeRouter}, types)

	assert.Len(t, a.Headers(), 3)
}

func TestOriginationRespectsMinLSInterval(t *testing.T) {
	s, _, a := newTestArea(t)

	a.OriginateRouterLSA()
	first := ownRouterLSA(t, a)
	assert.Equal(t, InitialSequenceNumber, first.SequenceNumber)
	assert.Equal(t, []byte{0, 0, 0, 0}, first.Body)
	assert.True(t, first.IsChecksumValid())

	s.RunFor(2 * time.Second)
	a.OriginateRouterLSA()
	a.OriginateRouterLSA()
	assert.Equal(t, InitialSequenceNumber, ownRouterLSA(t, a).SequenceNumber, "deferred")

	s.RunFor(2 * time.Second)
	assert.Equal(t, InitialSequenceNumber, ownRouterLSA(t, a).SequenceNumber)

	s.RunFor(time.Second)
	assert.Equal(t, InitialSequenceNumber+1, ownRouterLSA(t, a).SequenceNumber, "one origination for both requests")

	s.RunFor(time.Minute)
	assert.Equal(t, InitialSequenceNumber+1, ownRouterLSA(t, a).SequenceNumber)
}

func TestSequenceNumberWrap(t *testing.T) {
	s, r, a := newTestArea(t)

	id := r.ID.String()
	require.NoError(t, a.Install(routerLSA(id, MaxSequenceNumber)))

	r.Start()

	flushed := ownRouterLSA(t, a)
	assert.Equal(t, MaxSequenceNumber, flushed.SequenceNumber)
	assert.Equal(t, uint16(MaxAge), flushed.Age)

	// Further requests wait for the flushed instance to leave.
	a.OriginateRouterLSA()
	assert.Equal(t, MaxSequenceNumber, ownRouterLSA(t, a).SequenceNumber)

	s.RunFor(time.Second)

	lsa := ownRouterLSA(t, a)
	assert.Equal(t, InitialSequenceNumber, lsa.SequenceNumber)
	assert.Equal(t, uint16(0), lsa.Age)
}

func TestAgingRefreshAndRemoval(t *testing.T) {
	s, r, a := newTestArea(t)

	other := summaryLSA("2.2.2.2", "10.2.0.0", 7)
	require.NoError(t, a.Install(other))

	r.Start()
	require.Equal(t, InitialSequenceNumber, ownRouterLSA(t, a).SequenceNumber)

	s.RunFor(LSRefreshTime*time.Second - time.Second)
	assert.Equal(t, InitialSequenceNumber, ownRouterLSA(t, a).SequenceNumber)

	s.RunFor(time.Second)
	own := ownRouterLSA(t, a)
	assert.Equal(t, InitialSequenceNumber+1, own.SequenceNumber, "refreshed")
	assert.Equal(t, uint16(0), own.Age)

	lsa, ok := a.Lookup(other.Key())
	require.True(t, ok)
	assert.Equal(t, uint16(LSRefreshTime), lsa.Age, "not refreshed by us")

	s.RunFor((MaxAge - LSRefreshTime) * time.Second)
	lsa, ok = a.Lookup(other.Key())
	require.True(t, ok)
	assert.Equal(t, uint16(MaxAge), lsa.Age)
	assert.NotContains(t, a.Summary(true), lsa.LSAHeader)

	s.RunFor(time.Second)
	_, ok = a.Lookup(other.Key())
	assert.False(t, ok)
}

func TestMaxAgeRemovalWaitsForAcknowledgement(t *testing.T) {
	s, r, a := newTestArea(t)

	iface, err := a.AddInterface(testConfig("eth0", InterfacePointToPoint, "10.0.0.1/30"), &capture{})
	require.NoError(t, err)
	iface.up = true
	n := fullNeighborOn(iface, "2.2.2.2")

	other := summaryLSA("2.2.2.2", "10.2.0.0", 7)
	require.NoError(t, a.Install(other))
	r.sched.Arm(r.agingTimer, time.Second)

	dead := other.Copy()
	dead.Age = MaxAge
	a.Flood(dead, nil)
	require.NotNil(t, n.findOnRetransmissionList(other.Key()))

	s.RunFor(3 * time.Second)
	_, ok := a.Lookup(other.Key())
	assert.True(t, ok, "still on a retransmission list")

	n.removeFromRetransmissionList(other.Key())
	s.RunFor(time.Second)
	_, ok = a.Lookup(other.Key())
	assert.False(t, ok)
}

func TestNewerSelfOriginatedLSA(t *testing.T) {
	_, _, a := newTestArea(t)

	iface, err := a.AddInterface(testConfig("eth0", InterfaceBroadcast, "10.0.0.1/24"), &capture{})
	require.NoError(t, err)
	iface.up = true
	from := newNeighbor(iface, rid("2.2.2.2"), netip.MustParseAddr("10.0.0.2"))

	a.Flood(routerLSA("1.1.1.1", 100), from)
	assert.Equal(t, int32(101), ownRouterLSA(t, a).SequenceNumber)

	// A network LSA for an address we no longer have is flushed.
	stale := NewLSA(LSAHeader{
		Type:              LSTypeNetwork,
		ID:                netip.MustParseAddr("10.9.9.9"),
		AdvertisingRouter: rid("1.1.1.1"),
		SequenceNumber:    3,
	}, []byte{255, 255, 255, 0, 1, 1, 1, 1})
	a.Flood(stale, from)

	lsa, ok := a.Lookup(stale.Key())
	require.True(t, ok)
	assert.Equal(t, uint16(MaxAge), lsa.Age)
	assert.Equal(t, int32(3), lsa.SequenceNumber)
}

func TestNetworkLSA(t *testing.T) {
	_, _, a := newTestArea(t)

	conf := testConfig("eth0", InterfaceBroadcast, "10.0.0.1/24")
	conf.Role = RoleDR
	conf.DesignatedRouter = rid("1.1.1.1")
	iface, err := a.AddInterface(conf, &capture{})
	require.NoError(t, err)
	iface.up = true

	key := LSAKey{Type: LSTypeNetwork, ID: iface.Addr(), AdvertisingRouter: rid("1.1.1.1")}

	a.OriginateNetworkLSA(iface)
	_, ok := a.Lookup(key)
	assert.False(t, ok, "no full adjacencies")

	n := fullNeighborOn(iface, "2.2.2.2")
	a.OriginateNetworkLSA(iface)

	lsa, ok := a.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, []byte{255, 255, 255, 0, 1, 1, 1, 1, 2, 2, 2, 2}, lsa.Body)
	assert.NotNil(t, n.findOnRetransmissionList(key))

	n.handler = downState{}
	a.OriginateNetworkLSA(iface)

	lsa, ok = a.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, uint16(MaxAge), lsa.Age)
}

func TestRouterLSABody(t *testing.T) {
	_, _, a := newTestArea(t)

	iface, err := a.AddInterface(testConfig("eth0", InterfacePointToPoint, "10.0.0.1/30"), &capture{})
	require.NoError(t, err)
	iface.up = true

	body := a.routerLSABody()
	assert.Equal(t, []byte{0, 0, 0, 1}, body[:4])
	assert.Equal(t, []byte{10, 0, 0, 0, 255, 255, 255, 252, linkStub, 0, 0, 10}, body[4:16])

	fullNeighborOn(iface, "2.2.2.2")

	body = a.routerLSABody()
	require.Len(t, body, 4+24)
	assert.Equal(t, []byte{0, 0, 0, 2}, body[:4])
	assert.Equal(t, []byte{2, 2, 2, 2, 10, 0, 0, 1, linkPointToPoint, 0, 0, 10}, body[4:16])
	assert.Equal(t, byte(linkStub), body[24])
}

func TestAddInterfaceValidation(t *testing.T) {
	_, _, a := newTestArea(t)

	tests := []struct {
		name   string
		modify func(c *InterfaceConfig)
	}{
		{"no name", func(c *InterfaceConfig) { c.Name = "" }},
		{"ipv6", func(c *InterfaceConfig) { c.Prefix = netip.MustParsePrefix("2001:db8::1/64") }},
		{"no mtu", func(c *InterfaceConfig) { c.MTU = 0 }},
		{"no hello interval", func(c *InterfaceConfig) { c.HelloInterval = 0 }},
		{"nbma without poll interval", func(c *InterfaceConfig) {
			c.Type = InterfaceNBMA
			c.PollInterval = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := testConfig("eth1", InterfaceBroadcast, "10.1.0.1/24")
			tt.modify(&conf)
			_, err := a.AddInterface(conf, &capture{})
			assert.Error(t, err)
		})
	}

	_, err := a.AddInterface(testConfig("eth0", InterfaceBroadcast, "10.0.0.1/24"), &capture{})
	require.NoError(t, err)
	_, err = a.AddInterface(testConfig("eth0", InterfaceBroadcast, "10.2.0.1/24"), &capture{})
	assert.Error(t, err, "duplicate name")

	_, err = a.router.Area(1).AddInterface(testConfig("vl0", InterfaceVirtual, "10.3.0.1/32"), &capture{})
	assert.Error(t, err, "virtual link outside the backbone")

	_, err = a.AddInterface(testConfig("eth2", InterfaceBroadcast, "10.4.0.1/24"), nil)
	assert.Error(t, err, "no transport")
}
