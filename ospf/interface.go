package ospf

import (
	"cmp"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/sched"
)

type InterfaceType int

const (
	InterfacePointToPoint InterfaceType = iota
	InterfaceBroadcast
	InterfaceNBMA
	InterfacePointToMultipoint
	InterfaceVirtual
)

func (t InterfaceType) String() string {
	switch t {
	case InterfacePointToPoint:
		return "point-to-point"
	case InterfaceBroadcast:
		return "broadcast"
	case InterfaceNBMA:
		return "non-broadcast"
	case InterfacePointToMultipoint:
		return "point-to-multipoint"
	case InterfaceVirtual:
		return "virtual-link"
	default:
		return "unknown"
	}
}

func ParseInterfaceType(s string) (InterfaceType, error) {
	for t := InterfacePointToPoint; t <= InterfaceVirtual; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown interface type %q", s)
}

// InterfaceRole is the interface's part in the DR election. The election
// itself is not run; roles are configured.
type InterfaceRole int

const (
	RoleDROther InterfaceRole = iota
	RoleBDR
	RoleDR
)

func (r InterfaceRole) String() string {
	switch r {
	case RoleDROther:
		return "dr-other"
	case RoleBDR:
		return "bdr"
	case RoleDR:
		return "dr"
	default:
		return "unknown"
	}
}

func ParseInterfaceRole(s string) (InterfaceRole, error) {
	for r := RoleDROther; r <= RoleDR; r++ {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown interface role %q", s)
}

type InterfaceConfig struct {
	Name   string
	Type   InterfaceType
	Prefix netip.Prefix
	MTU    int
	Cost   uint16

	Priority      uint8
	HelloInterval time.Duration
	DeadInterval  time.Duration
	RxmtInterval  time.Duration
	TransmitDelay time.Duration
	PollInterval  time.Duration

	Role                   InterfaceRole
	DesignatedRouter       common.RouterID
	BackupDesignatedRouter common.RouterID

	// StaticNeighbors are contacted with Start on NBMA interfaces and are
	// the remote endpoints of virtual links.
	StaticNeighbors []netip.Addr
}

type Interface struct {
	InterfaceConfig

	area *Area
	db   Database
	tx   Transport
	log  *slog.Logger

	neighbors  map[netip.Addr]*Neighbor
	helloTimer *sched.Timer
	up         bool
}

func newInterface(area *Area, conf InterfaceConfig, tx Transport) *Interface {
	iface := &Interface{
		InterfaceConfig: conf,
		area:            area,
		db:              area,
		tx:              tx,
		log:             area.router.log.With("interface", conf.Name),
		neighbors:       make(map[netip.Addr]*Neighbor),
	}

	iface.helloTimer = sched.NewTimer(conf.Name+" hello", iface.helloTimerFired)

	return iface
}

func (iface *Interface) String() string {
	return fmt.Sprintf("%s %v %v", iface.Name, iface.Type, iface.Prefix)
}

func (iface *Interface) Role() InterfaceRole {
	return iface.InterfaceConfig.Role
}

func (iface *Interface) Addr() netip.Addr {
	return iface.Prefix.Addr()
}

func (iface *Interface) router() *Router {
	return iface.area.router
}

func (iface *Interface) routerID() common.RouterID {
	return iface.area.router.ID
}

func (iface *Interface) sched() sched.Scheduler {
	return iface.area.router.sched
}

func (iface *Interface) metrics() *Metrics {
	return iface.area.router.metrics
}

func (iface *Interface) options() uint8 {
	return optE
}

func (iface *Interface) ddMTU() uint16 {
	if iface.Type == InterfaceVirtual {
		return 0
	}
	return uint16(iface.MTU)
}

func (iface *Interface) ttl() uint8 {
	if iface.Type == InterfaceVirtual {
		return virtualLinkTTL
	}
	return 1
}

func (iface *Interface) header(t messageType) header {
	return header{
		messageType: t,
		routerID:    iface.routerID(),
		areaID:      iface.area.ID,
		src:         iface.Addr(),
	}
}

func (iface *Interface) send(dst netip.Addr, p Packet) {
	iface.log.Debug("sending", "dst", dst, "packet", p.hdr().messageType)
	iface.metrics().packetSent(p.hdr().messageType)
	iface.tx.Send(dst, p, iface.ttl())
}

func (iface *Interface) neighborKey(src netip.Addr, routerID common.RouterID) netip.Addr {
	t := iface.Type
	if t == InterfaceBroadcast || t == InterfacePointToMultipoint || t == InterfaceNBMA {
		return src
	} else {
		return routerID.Addr()
	}
}

func (iface *Interface) sortedNeighbors() []*Neighbor {
	ns := make([]*Neighbor, 0, len(iface.neighbors))
	for _, n := range iface.neighbors {
		ns = append(ns, n)
	}
	slices.SortFunc(ns, func(a, b *Neighbor) int {
		if c := cmp.Compare(a.ID, b.ID); c != 0 {
			return c
		}
		return a.Addr.Compare(b.Addr)
	})
	return ns
}

// Neighbor returns the neighbor with the given router ID.
func (iface *Interface) Neighbor(id common.RouterID) (*Neighbor, bool) {
	for _, n := range iface.neighbors {
		if n.ID == id {
			return n, true
		}
	}
	return nil, false
}

func (iface *Interface) Neighbors() []*Neighbor {
	return iface.sortedNeighbors()
}

// Up starts the Hello protocol. On NBMA interfaces every configured
// neighbor gets the Start event.
func (iface *Interface) Up() {
	if iface.up {
		return
	}
	iface.up = true
	iface.log.Info("interface up", "type", iface.Type, "address", iface.Prefix, "role", iface.Role())

	if iface.Type == InterfaceNBMA {
		for _, addr := range iface.StaticNeighbors {
			n := newNeighbor(iface, 0, addr)
			iface.neighbors[addr] = n
			n.handleEvent(neStart)
		}
	}

	iface.sched().Arm(iface.helloTimer, 0)
}

// Down kills every neighbor and stops the Hello protocol.
func (iface *Interface) Down() {
	if !iface.up {
		return
	}

	for _, n := range iface.sortedNeighbors() {
		n.handleEvent(neKillNbr)
		iface.removeNeighbor(n)
	}

	iface.sched().Cancel(iface.helloTimer)
	iface.up = false
	iface.log.Info("interface down")
}

// LinkDown reports loss of the lower layer to every neighbor. The
// neighbors stay in the table in state Down.
func (iface *Interface) LinkDown() {
	for _, n := range iface.sortedNeighbors() {
		n.handleEvent(neLLDown)
	}
}

func (iface *Interface) removeNeighbor(n *Neighbor) {
	delete(iface.neighbors, iface.neighborKey(n.Addr, n.ID))
	iface.metrics().neighborRemoved(n.State())
}

// SetRole changes the configured DR/BDR identity of the link and asks
// every neighbor whether its adjacency is still wanted.
func (iface *Interface) SetRole(role InterfaceRole, dr, bdr common.RouterID) {
	wasDR := iface.Role() == RoleDR

	iface.InterfaceConfig.Role = role
	iface.DesignatedRouter = dr
	iface.BackupDesignatedRouter = bdr

	for _, n := range iface.sortedNeighbors() {
		if n.State() >= n2Way {
			n.handleEvent(neAdjOK)
		}
	}

	iface.db.OriginateRouterLSA()
	if role == RoleDR || wasDR {
		iface.db.OriginateNetworkLSA(iface)
	}
}

func (iface *Interface) helloTimerFired() {
	switch iface.Type {
	case InterfaceNBMA:
		for _, n := range iface.sortedNeighbors() {
			if n.State() > nDown {
				iface.sendHello(n.Addr)
			}
		}
	case InterfaceVirtual:
		for _, addr := range iface.StaticNeighbors {
			iface.sendHello(addr)
		}
	default:
		iface.sendHello(AllSPFRouters)
	}

	iface.sched().Arm(iface.helloTimer, iface.HelloInterval)
}

// designatedRouterAddr maps a configured DR or BDR router ID to its
// interface address on this link.
func (iface *Interface) designatedRouterAddr(id common.RouterID) netip.Addr {
	if id == 0 {
		return netip.IPv4Unspecified()
	}
	if id == iface.routerID() {
		return iface.Addr()
	}
	if n, ok := iface.Neighbor(id); ok {
		return n.Addr
	}
	return netip.IPv4Unspecified()
}

func (iface *Interface) sendHello(dst netip.Addr) {
	hello := &Hello{
		header:             iface.header(TypeHello),
		networkMask:        net.CIDRMask(iface.Prefix.Bits(), 32),
		helloInterval:      uint16(iface.HelloInterval / time.Second),
		options:            iface.options(),
		routerPriority:     iface.Priority,
		routerDeadInterval: uint32(iface.DeadInterval / time.Second),
		dRouter:            iface.designatedRouterAddr(iface.DesignatedRouter),
		bdRouter:           iface.designatedRouterAddr(iface.BackupDesignatedRouter),
	}

	for _, n := range iface.sortedNeighbors() {
		if n.State() >= nInit {
			hello.neighbors = append(hello.neighbors, n.ID)
		}
	}

	iface.send(dst, hello)
}

// Receive hands a decoded packet sent to dst to the interface. It must be
// called on the router's scheduler.
func (iface *Interface) Receive(dst netip.Addr, p Packet) {
	if !iface.up {
		return
	}

	if dst == AllDRouters && iface.Role() == RoleDROther {
		return
	}

	h := p.hdr()
	if h.areaID != iface.area.ID {
		iface.log.Debug("dropping packet for another area", "area", h.areaID)
		return
	}

	if h.routerID == iface.routerID() {
		return
	}

	iface.log.Debug("received", "src", h.src, "packet", h.messageType)

	if hello, ok := p.(*Hello); ok {
		iface.handleHello(hello)
		return
	}

	n, ok := iface.neighbors[iface.neighborKey(h.src, h.routerID)]
	if !ok {
		iface.log.Debug("packet from unknown neighbor", "src", h.src, "router", h.routerID, "packet", h.messageType)
		return
	}

	switch p := p.(type) {
	case *DatabaseDescription:
		n.handleDatabaseDescription(p)
	case *LinkStateRequest:
		n.handleLinkStateRequest(p)
	case *LinkStateUpdate:
		n.handleLinkStateUpdate(p)
	case *LinkStateAcknowledgement:
		n.handleLinkStateAcknowledgement(p)
	}
}

func (iface *Interface) handleHello(h *Hello) {
	if iface.Type != InterfacePointToPoint && iface.Type != InterfaceVirtual && h.netmaskBits() != iface.Prefix.Bits() {
		iface.log.Debug("hello netmask mismatch", "src", h.src, "bits", h.netmaskBits())
		return
	}

	if time.Duration(h.helloInterval)*time.Second != iface.HelloInterval || time.Duration(h.routerDeadInterval)*time.Second != iface.DeadInterval {
		iface.log.Debug("hello interval mismatch", "src", h.src, "hello", h.helloInterval, "dead", h.routerDeadInterval)
		return
	}

	if h.options&optE != iface.options()&optE {
		iface.log.Debug("hello E-bit mismatch", "src", h.src)
		return
	}

	key := iface.neighborKey(h.src, h.routerID)
	n, ok := iface.neighbors[key]
	if !ok {
		n = newNeighbor(iface, h.routerID, h.src)
		iface.neighbors[key] = n
	}

	// NBMA neighbors started from configuration learn their ID here.
	if n.ID != h.routerID {
		n.ID = h.routerID
		n.log = iface.log.With("neighbor", n.ID)
	}
	n.Addr = h.src
	n.Priority = h.routerPriority
	n.DeadInterval = time.Duration(h.routerDeadInterval) * time.Second

	drChanged := ok && (n.DesignatedRouter != h.dRouter || n.BackupDesignatedRouter != h.bdRouter)
	n.DesignatedRouter = h.dRouter
	n.BackupDesignatedRouter = h.bdRouter

	n.handleEvent(neHelloReceived)

	if !slices.Contains(h.neighbors, iface.routerID()) {
		n.handleEvent(ne1WayReceived)
		return
	}

	n.handleEvent(ne2WayReceived)

	if drChanged && n.State() >= n2Way {
		n.handleEvent(neAdjOK)
	}
}
