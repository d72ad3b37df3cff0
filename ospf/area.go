package ospf

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/events"
)

// MinLSInterval is the minimum time between originations of the same LSA.
const MinLSInterval = 5 * time.Second

// Router LSA link types
const (
	linkPointToPoint = 1
	linkTransit      = 2
	linkStub         = 3
	linkVirtual      = 4
)

// Area owns one link state database and the interfaces attached to it.
// It is the engine's Database.
type Area struct {
	ID common.AreaID

	router *Router
	log    *slog.Logger

	mu sync.RWMutex
	db lsdb

	interfaces []*Interface

	lastOriginated map[LSAKey]time.Duration
	deferred       map[LSAKey]bool

	// Self-originated LSAs waiting for their MaxSequenceNumber instance to
	// leave the database before starting over.
	wrapping map[LSAKey]func()
}

func newArea(r *Router, id common.AreaID) *Area {
	return &Area{
		ID:             id,
		router:         r,
		log:            r.log.With("area", id),
		db:             newLSDB(),
		lastOriginated: make(map[LSAKey]time.Duration),
		deferred:       make(map[LSAKey]bool),
		wrapping:       make(map[LSAKey]func()),
	}
}

func (a *Area) AddInterface(conf InterfaceConfig, tx Transport) (*Interface, error) {
	prefix := fmt.Sprintf("ospf area %v interface %s", a.ID, conf.Name)

	if conf.Name == "" {
		return nil, fmt.Errorf("ospf area %v: interface name is required", a.ID)
	}

	for _, iface := range a.router.allInterfaces() {
		if iface.Name == conf.Name {
			return nil, fmt.Errorf("%s: already configured in area %v", prefix, iface.area.ID)
		}
	}

	if !conf.Prefix.IsValid() || !conf.Prefix.Addr().Is4() {
		return nil, fmt.Errorf("%s: address must be an IPv4 prefix", prefix)
	}

	if conf.Type != InterfaceVirtual && conf.MTU <= 0 {
		return nil, fmt.Errorf("%s: mtu must be positive", prefix)
	}

	if conf.Type == InterfaceVirtual && a.ID != common.Backbone {
		return nil, fmt.Errorf("%s: virtual links belong to the backbone", prefix)
	}

	if conf.HelloInterval <= 0 || conf.DeadInterval <= 0 || conf.RxmtInterval <= 0 {
		return nil, fmt.Errorf("%s: hello, dead and retransmit intervals must be positive", prefix)
	}

	if conf.Type == InterfaceNBMA && conf.PollInterval <= 0 {
		return nil, fmt.Errorf("%s: poll interval must be positive", prefix)
	}

	if tx == nil {
		return nil, fmt.Errorf("%s: no transport", prefix)
	}

	iface := newInterface(a, conf, tx)
	a.interfaces = append(a.interfaces, iface)

	return iface, nil
}

func (a *Area) Interfaces() []*Interface {
	return slices.Clone(a.interfaces)
}

func (a *Area) neighbors() []*Neighbor {
	var neighbors []*Neighbor
	for _, iface := range a.interfaces {
		neighbors = append(neighbors, iface.sortedNeighbors()...)
	}
	return neighbors
}

func (a *Area) Lookup(key LSAKey) (*LSA, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.db[key]
	if !ok {
		return nil, false
	}
	return e.LSA.Copy(), true
}

func (a *Area) IsFresherThanLocal(h *LSAHeader) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.db[h.Key()]
	if !ok {
		return true
	}
	return h.Compare(&e.LSAHeader) > 0
}

func (a *Area) RecentlyInstalled(key LSAKey) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	e, ok := a.db[key]
	if !ok {
		return false
	}
	return a.router.sched.Now()-e.installedAt < MinLSArrival*time.Second
}

func (a *Area) Summary(includeExternal bool) []LSAHeader {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var headers []LSAHeader
	for _, key := range a.db.sortedKeys() {
		e := a.db[key]
		if e.Age >= MaxAge {
			continue
		}
		if e.Type == LSTypeASExternal && !includeExternal {
			continue
		}
		headers = append(headers, e.LSAHeader)
	}
	return headers
}

// Headers returns the header of every installed LSA in key order.
func (a *Area) Headers() []LSAHeader {
	a.mu.RLock()
	defer a.mu.RUnlock()

	headers := make([]LSAHeader, 0, len(a.db))
	for _, key := range a.db.sortedKeys() {
		headers = append(headers, a.db[key].LSAHeader)
	}
	return headers
}

func (a *Area) NeighborsInExchange() bool {
	for _, n := range a.neighbors() {
		if s := n.State(); s == nExchange || s == nLoading {
			return true
		}
	}
	return false
}

func (a *Area) onAnyRetransmissionList(key LSAKey) bool {
	for _, n := range a.neighbors() {
		if n.findOnRetransmissionList(key) != nil {
			return true
		}
	}
	return false
}

// Install adds lsa to the database without flooding it. It is used to
// seed a database before the router starts.
func (a *Area) Install(lsa *LSA) error {
	if !lsa.Type.valid() {
		return fmt.Errorf("ospf area %v: invalid lsa type %d", a.ID, lsa.Type)
	}
	if !lsa.IsChecksumValid() {
		return fmt.Errorf("ospf area %v: bad checksum on %v", a.ID, lsa.Key())
	}

	a.install(lsa)
	return nil
}

func (a *Area) install(lsa *LSA) {
	key := lsa.Key()

	a.mu.Lock()
	_, replaced := a.db[key]
	a.db[key] = &installedLSA{
		LSA:         lsa.Copy(),
		installedAt: a.router.sched.Now(),
	}
	a.mu.Unlock()

	// The old instance is no longer worth retransmitting.
	if replaced {
		for _, n := range a.neighbors() {
			n.removeFromRetransmissionList(key)
		}
	}

	a.log.Debug("installed lsa", "lsa", &lsa.LSAHeader)
	a.router.publish(events.LSAInstalled, a.lsaChange(lsa))
}

func (a *Area) lsaChange(lsa *LSA) events.LSAChange {
	return events.LSAChange{
		Router:         a.router.ID,
		Area:           a.ID,
		Key:            lsa.Key().String(),
		SequenceNumber: lsa.SequenceNumber,
		Age:            lsa.Age,
	}
}

func (a *Area) Flood(lsa *LSA, from *Neighbor) bool {
	a.install(lsa)

	floodedBack := false
	for _, iface := range a.interfaces {
		if !iface.up {
			continue
		}
		if iface.floodLSA(lsa, from) {
			floodedBack = true
		}
	}

	// Section 13.4: someone has a newer instance of one of our LSAs.
	if from != nil && lsa.AdvertisingRouter == a.router.ID {
		a.log.Info("received newer instance of self-originated lsa", "lsa", &lsa.LSAHeader)
		a.reoriginate(lsa)
	}

	return floodedBack
}

func (a *Area) flush(lsa *LSA) {
	f := lsa.Copy()
	f.Age = MaxAge
	a.Flood(f, nil)
}

func (a *Area) reoriginate(lsa *LSA) {
	switch lsa.Type {
	case LSTypeRouter:
		a.OriginateRouterLSA()
	case LSTypeNetwork:
		if iface := a.interfaceWithAddr(lsa.ID); iface != nil {
			a.OriginateNetworkLSA(iface)
			return
		}
		a.flush(lsa)
	default:
		if lsa.Age != MaxAge {
			a.flush(lsa)
		}
	}
}

func (a *Area) interfaceWithAddr(addr netip.Addr) *Interface {
	for _, iface := range a.interfaces {
		if iface.Addr() == addr {
			return iface
		}
	}
	return nil
}

func (a *Area) OriginateRouterLSA() {
	key := LSAKey{
		Type:              LSTypeRouter,
		ID:                a.router.ID.Addr(),
		AdvertisingRouter: a.router.ID,
	}
	a.originate(key, a.routerLSABody, a.OriginateRouterLSA)
}

// OriginateNetworkLSA originates the network LSA for iface if we are its
// DR and have at least one full adjacency on it. Otherwise any network LSA
// we originated for it is flushed.
func (a *Area) OriginateNetworkLSA(iface *Interface) {
	key := LSAKey{
		Type:              LSTypeNetwork,
		ID:                iface.Addr(),
		AdvertisingRouter: a.router.ID,
	}

	if iface.Role() != RoleDR || len(fullNeighbors(iface)) == 0 {
		if old, ok := a.Lookup(key); ok && old.Age != MaxAge {
			a.flush(old)
		}
		return
	}

	a.originate(key, func() []byte { return networkLSABody(iface) }, func() { a.OriginateNetworkLSA(iface) })
}

func (a *Area) originate(key LSAKey, build func() []byte, retry func()) {
	s := a.router.sched
	now := s.Now()

	if last, ok := a.lastOriginated[key]; ok && now-last < MinLSInterval {
		if !a.deferred[key] {
			a.deferred[key] = true
			s.Post(MinLSInterval-(now-last), func() {
				delete(a.deferred, key)
				retry()
			})
		}
		return
	}

	if _, ok := a.wrapping[key]; ok {
		return
	}

	seq := InitialSequenceNumber
	if old, ok := a.Lookup(key); ok {
		if old.SequenceNumber == MaxSequenceNumber {
			a.log.Info("sequence number wrapped, flushing", "lsa", key)
			a.wrapping[key] = retry
			a.flush(old)
			return
		}
		seq = old.SequenceNumber + 1
	}

	lsa := NewLSA(LSAHeader{
		Options:           optE,
		Type:              key.Type,
		ID:                key.ID,
		AdvertisingRouter: key.AdvertisingRouter,
		SequenceNumber:    seq,
	}, build())

	a.lastOriginated[key] = now
	a.log.Debug("originating lsa", "lsa", &lsa.LSAHeader)
	a.router.publish(events.LSAOriginated, a.lsaChange(lsa))

	a.Flood(lsa, nil)
}

// age runs once a second.
func (a *Area) age() {
	var reflood []*LSA
	var refresh []*LSA
	var removed []LSAKey

	inExchange := a.NeighborsInExchange()

	a.mu.Lock()
	for _, key := range a.db.sortedKeys() {
		e := a.db[key]

		if e.Age >= MaxAge {
			if !inExchange && !a.onAnyRetransmissionList(key) {
				delete(a.db, key)
				removed = append(removed, key)
			}
			continue
		}

		e.Age++
		if e.Age == MaxAge {
			reflood = append(reflood, e.LSA.Copy())
		} else if e.AdvertisingRouter == a.router.ID && e.Age >= LSRefreshTime {
			refresh = append(refresh, e.LSA.Copy())
		}
	}
	a.mu.Unlock()

	for _, lsa := range reflood {
		a.log.Debug("lsa reached MaxAge", "lsa", lsa.Key())
		a.Flood(lsa, nil)
	}

	for _, lsa := range refresh {
		a.reoriginate(lsa)
	}

	for _, key := range removed {
		a.log.Debug("removed lsa", "lsa", key)
		if retry, ok := a.wrapping[key]; ok {
			delete(a.wrapping, key)
			retry()
		}
	}

	for _, n := range a.neighbors() {
		n.ageTransmittedLSAs()
	}
}

func fullNeighbors(iface *Interface) []*Neighbor {
	var full []*Neighbor
	for _, n := range iface.sortedNeighbors() {
		if n.State() == nFull {
			full = append(full, n)
		}
	}
	return full
}

type routerLink struct {
	id     netip.Addr
	data   netip.Addr
	type_  uint8
	metric uint16
}

func (a *Area) routerLSABody() []byte {
	var links []routerLink

	for _, iface := range a.interfaces {
		if !iface.up {
			continue
		}

		full := fullNeighbors(iface)
		mask := common.Uint32ToAddr(binary.BigEndian.Uint32(net.CIDRMask(iface.Prefix.Bits(), 32)))
		stub := routerLink{id: iface.Prefix.Masked().Addr(), data: mask, type_: linkStub, metric: iface.Cost}

		switch iface.Type {
		case InterfacePointToPoint:
			for _, n := range full {
				links = append(links, routerLink{id: n.ID.Addr(), data: iface.Addr(), type_: linkPointToPoint, metric: iface.Cost})
			}
			links = append(links, stub)
		case InterfaceBroadcast, InterfaceNBMA:
			dr := iface.designatedRouterAddr(iface.DesignatedRouter)
			adjacentToDR := iface.Role() == RoleDR && len(full) > 0
			if !adjacentToDR {
				if n, ok := iface.Neighbor(iface.DesignatedRouter); ok && n.State() == nFull {
					adjacentToDR = true
				}
			}

			if adjacentToDR {
				links = append(links, routerLink{id: dr, data: iface.Addr(), type_: linkTransit, metric: iface.Cost})
			} else {
				links = append(links, stub)
			}
		case InterfacePointToMultipoint:
			links = append(links, routerLink{id: iface.Addr(), data: netip.AddrFrom4([4]byte{255, 255, 255, 255}), type_: linkStub})
			for _, n := range full {
				links = append(links, routerLink{id: n.ID.Addr(), data: iface.Addr(), type_: linkPointToPoint, metric: iface.Cost})
			}
		case InterfaceVirtual:
			for _, n := range full {
				links = append(links, routerLink{id: n.ID.Addr(), data: iface.Addr(), type_: linkVirtual, metric: iface.Cost})
			}
		}
	}

	body := make([]byte, 4+12*len(links))
	binary.BigEndian.PutUint16(body[2:4], uint16(len(links)))
	for i, l := range links {
		off := 4 + 12*i
		copy(body[off:off+4], to4(l.id))
		copy(body[off+4:off+8], to4(l.data))
		body[off+8] = l.type_
		binary.BigEndian.PutUint16(body[off+10:off+12], l.metric)
	}

	return body
}

func networkLSABody(iface *Interface) []byte {
	routers := []common.RouterID{iface.routerID()}
	for _, n := range fullNeighbors(iface) {
		routers = append(routers, n.ID)
	}

	body := make([]byte, 4+4*len(routers))
	copy(body[0:4], net.CIDRMask(iface.Prefix.Bits(), 32))
	for i, id := range routers {
		binary.BigEndian.PutUint32(body[4+4*i:8+4*i], uint32(id))
	}

	return body
}

func (a *Area) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "area %v", a.ID)
	for _, h := range a.Headers() {
		fmt.Fprintf(&b, "\n  %s", &h)
	}
	return b.String()
}
