package ospf

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/sched"
)

func rid(s string) common.RouterID {
	return common.RouterID(common.AddrToUint32(netip.MustParseAddr(s)))
}

func testConfig(name string, typ InterfaceType, prefix string) InterfaceConfig {
	return InterfaceConfig{
		Name:          name,
		Type:          typ,
		Prefix:        netip.MustParsePrefix(prefix),
		MTU:           1500,
		Cost:          10,
		Priority:      1,
		HelloInterval: 10 * time.Second,
		DeadInterval:  40 * time.Second,
		RxmtInterval:  5 * time.Second,
		TransmitDelay: 1 * time.Second,
		PollInterval:  120 * time.Second,
	}
}

type sentPacket struct {
	dst netip.Addr
	p   Packet
	ttl uint8
}

// capture is a Transport that records everything it is given.
type capture struct {
	sent []sentPacket
}

func (c *capture) Send(dst netip.Addr, p Packet, ttl uint8) {
	c.sent = append(c.sent, sentPacket{dst, p, ttl})
}

func (c *capture) last() Packet {
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1].p
}

func (c *capture) lastDD(t *testing.T) *DatabaseDescription {
	t.Helper()
	dd, ok := c.last().(*DatabaseDescription)
	require.True(t, ok, "last packet is %v", c.last())
	return dd
}

func (c *capture) count(mt messageType) int {
	n := 0
	for _, s := range c.sent {
		if s.p.hdr().messageType == mt {
			n++
		}
	}
	return n
}

// wire carries packets to a peer interface through the wire format, one
// millisecond later.
type wire struct {
	s    *sched.Sim
	src  netip.Addr
	peer *Interface
	drop func(Packet) bool
}

func (w *wire) Send(dst netip.Addr, p Packet, ttl uint8) {
	if w.drop != nil && w.drop(p) {
		return
	}

	q, err := Decode(w.src, Encode(p))
	if err != nil {
		panic(err)
	}

	w.s.Post(time.Millisecond, func() {
		w.peer.Receive(dst, q)
	})
}

// fakeDB is a Database that records what the engine asks of it.
type fakeDB struct {
	lsas    map[LSAKey]*LSA
	flooded []*LSA
	recent  map[LSAKey]bool

	routerOriginations  int
	networkOriginations int
}

func newFakeDB(lsas ...*LSA) *fakeDB {
	db := &fakeDB{
		lsas:   make(map[LSAKey]*LSA),
		recent: make(map[LSAKey]bool),
	}
	for _, l := range lsas {
		db.lsas[l.Key()] = l
	}
	return db
}

func (db *fakeDB) Lookup(key LSAKey) (*LSA, bool) {
	l, ok := db.lsas[key]
	if !ok {
		return nil, false
	}
	return l.Copy(), true
}

func (db *fakeDB) IsFresherThanLocal(h *LSAHeader) bool {
	l, ok := db.lsas[h.Key()]
	return !ok || h.Compare(&l.LSAHeader) > 0
}

func (db *fakeDB) RecentlyInstalled(key LSAKey) bool {
	return db.recent[key]
}

func (db *fakeDB) Summary(includeExternal bool) []LSAHeader {
	keys := make([]LSAKey, 0, len(db.lsas))
	for k := range db.lsas {
		keys = append(keys, k)
	}
	sortKeys(keys)

	var headers []LSAHeader
	for _, k := range keys {
		l := db.lsas[k]
		if l.Age == MaxAge || (l.Type == LSTypeASExternal && !includeExternal) {
			continue
		}
		headers = append(headers, l.LSAHeader)
	}
	return headers
}

func (db *fakeDB) Flood(lsa *LSA, from *Neighbor) bool {
	db.lsas[lsa.Key()] = lsa.Copy()
	db.flooded = append(db.flooded, lsa)
	return false
}

func (db *fakeDB) NeighborsInExchange() bool {
	return false
}

func (db *fakeDB) OriginateRouterLSA() {
	db.routerOriginations++
}

func (db *fakeDB) OriginateNetworkLSA(iface *Interface) {
	db.networkOriginations++
}

func sortKeys(keys []LSAKey) {
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j].Compare(keys[j-1]) < 0; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
}

func routerLSA(adv string, seq int32, body ...byte) *LSA {
	return NewLSA(LSAHeader{
		Options:           optE,
		Type:              LSTypeRouter,
		ID:                netip.MustParseAddr(adv),
		AdvertisingRouter: rid(adv),
		SequenceNumber:    seq,
	}, body)
}

func summaryLSA(adv string, id string, seq int32) *LSA {
	return NewLSA(LSAHeader{
		Options:           optE,
		Type:              LSTypeSummary,
		ID:                netip.MustParseAddr(id),
		AdvertisingRouter: rid(adv),
		SequenceNumber:    seq,
	}, []byte{255, 255, 255, 0, 0, 0, 0, 10})
}

// harness is one interface with one neighbor on it, backed by a fakeDB
// and a capturing transport. The interface is not brought up, so no
// Hellos are sent.
type harness struct {
	s     *sched.Sim
	r     *Router
	iface *Interface
	db    *fakeDB
	tx    *capture
	n     *Neighbor
}

func newHarness(t *testing.T, ours, theirs string, conf InterfaceConfig, lsas ...*LSA) *harness {
	t.Helper()

	s := sched.NewSim()
	tx := &capture{}
	r := NewRouter(rid(ours), s)

	iface, err := r.Area(common.Backbone).AddInterface(conf, tx)
	require.NoError(t, err)

	db := newFakeDB(lsas...)
	iface.db = db
	iface.up = true

	addr := iface.Prefix.Addr().Next()
	n := newNeighbor(iface, rid(theirs), addr)
	iface.neighbors[iface.neighborKey(addr, n.ID)] = n

	return &harness{s: s, r: r, iface: iface, db: db, tx: tx, n: n}
}

func (h *harness) header(t messageType) header {
	return header{
		messageType: t,
		routerID:    h.n.ID,
		areaID:      common.Backbone,
		src:         h.n.Addr,
	}
}

func (h *harness) dd(init, more, master bool, seq uint32, headers ...LSAHeader) *DatabaseDescription {
	return &DatabaseDescription{
		header:         h.header(TypeDatabaseDescription),
		interfaceMTU:   1500,
		options:        optE,
		init:           init,
		more:           more,
		master:         master,
		sequenceNumber: seq,
		lsaHeaders:     headers,
	}
}

func (h *harness) lsu(lsas ...*LSA) *LinkStateUpdate {
	return &LinkStateUpdate{
		header: h.header(TypeLinkStateUpdate),
		lsas:   lsas,
	}
}

// toExStart raises the events that take a point-to-point neighbor from
// Down to ExStart.
func (h *harness) toExStart(t *testing.T) {
	t.Helper()

	h.n.handleEvent(neHelloReceived)
	h.n.handleEvent(ne2WayReceived)
	require.Equal(t, nExStart, h.n.State())
}

// toSlaveExchange makes us the slave of a master that opened with
// sequence number seq.
func (h *harness) toSlaveExchange(t *testing.T, seq uint32) {
	t.Helper()

	h.toExStart(t)
	h.n.handleDatabaseDescription(h.dd(true, true, true, seq))
	require.Equal(t, nExchange, h.n.State())
	require.Equal(t, ddSlave, h.n.role)
}

func headersOf(lsas ...*LSA) []LSAHeader {
	headers := make([]LSAHeader, len(lsas))
	for i, l := range lsas {
		headers[i] = l.LSAHeader
	}
	return headers
}
