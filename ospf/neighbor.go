package ospf

import (
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/sched"
)

type neighborState int

const (
	nDown neighborState = iota
	nAttempt
	nInit
	n2Way
	nExStart
	nExchange
	nLoading
	nFull
)

func (s neighborState) String() string {
	switch s {
	case nDown:
		return "Down"
	case nAttempt:
		return "Attempt"
	case nInit:
		return "Init"
	case n2Way:
		return "2-Way"
	case nExStart:
		return "ExStart"
	case nExchange:
		return "Exchange"
	case nLoading:
		return "Loading"
	case nFull:
		return "Full"
	default:
		return "Unknown"
	}
}

type neighborEvent int

const (
	neHelloReceived neighborEvent = iota
	neStart
	ne2WayReceived
	neNegotiationDone
	neExchangeDone
	neBadLSReq
	neLoadingDone
	neAdjOK
	neSeqNumberMismatch
	ne1WayReceived
	neKillNbr
	neInactivityTimer
	nePollTimer
	neLLDown
	neDDRxmtTimer
	neUpdateRxmtTimer
	neLSReqRxmtTimer
)

func (e neighborEvent) String() string {
	switch e {
	case neHelloReceived:
		return "HelloReceived"
	case neStart:
		return "Start"
	case ne2WayReceived:
		return "2-WayReceived"
	case neNegotiationDone:
		return "NegotiationDone"
	case neExchangeDone:
		return "ExchangeDone"
	case neBadLSReq:
		return "BadLSReq"
	case neLoadingDone:
		return "LoadingDone"
	case neAdjOK:
		return "AdjOK?"
	case neSeqNumberMismatch:
		return "SeqNumberMismatch"
	case ne1WayReceived:
		return "1-WayReceived"
	case neKillNbr:
		return "KillNbr"
	case neInactivityTimer:
		return "InactivityTimer"
	case nePollTimer:
		return "PollTimer"
	case neLLDown:
		return "LLDown"
	case neDDRxmtTimer:
		return "DDRxmtTimer"
	case neUpdateRxmtTimer:
		return "UpdateRxmtTimer"
	case neLSReqRxmtTimer:
		return "LSReqRxmtTimer"
	default:
		return "Unknown"
	}
}

type ddRole int

const (
	ddMaster ddRole = iota
	ddSlave
)

func (r ddRole) String() string {
	if r == ddMaster {
		return "master"
	}
	return "slave"
}

// ddPacketID identifies a Database Description packet for duplicate
// detection.
type ddPacketID struct {
	options        uint8
	flags          uint8
	sequenceNumber uint32
}

func idOf(dd *DatabaseDescription) ddPacketID {
	return ddPacketID{
		options:        dd.options,
		flags:          dd.flags(),
		sequenceNumber: dd.sequenceNumber,
	}
}

type transmittedLSA struct {
	key LSAKey
	age int
}

type Neighbor struct {
	iface   *Interface
	handler stateHandler
	log     *slog.Logger

	ID                     common.RouterID
	Priority               uint8
	Addr                   netip.Addr
	Options                uint8
	DesignatedRouter       netip.Addr
	BackupDesignatedRouter netip.Addr
	DeadInterval           time.Duration

	role                 ddRole
	ddSequenceNumber     uint32
	lastReceivedDD       *ddPacketID
	firstAdjacencyInited bool

	// Cleared whenever a new packet is built or the neighbor resets.
	lastTransmittedDD *DatabaseDescription
	outstandingLSReq  *LinkStateRequest

	databaseSummaryList  []LSAHeader
	linkStateRequestList []LSAHeader
	retransmissionList   []*LSA
	transmittedLSAs      []transmittedLSA

	inactivityTimer *sched.Timer
	pollTimer       *sched.Timer
	ddRxmtTimer     *sched.Timer
	updateRxmtTimer *sched.Timer
	lsReqRxmtTimer  *sched.Timer
}

func newNeighbor(iface *Interface, id common.RouterID, addr netip.Addr) *Neighbor {
	n := &Neighbor{
		iface:        iface,
		handler:      downState{},
		log:          iface.log.With("neighbor", id),
		ID:           id,
		Addr:         addr,
		DeadInterval: iface.DeadInterval,
		role:         ddMaster,
	}

	name := fmt.Sprintf("%s/%v", iface.Name, addr)
	n.inactivityTimer = sched.NewTimer(name+" inactivity", func() { n.handleEvent(neInactivityTimer) })
	n.pollTimer = sched.NewTimer(name+" poll", func() { n.handleEvent(nePollTimer) })
	n.ddRxmtTimer = sched.NewTimer(name+" dd-rxmt", func() { n.handleEvent(neDDRxmtTimer) })
	n.updateRxmtTimer = sched.NewTimer(name+" update-rxmt", func() { n.handleEvent(neUpdateRxmtTimer) })
	n.lsReqRxmtTimer = sched.NewTimer(name+" lsreq-rxmt", func() { n.handleEvent(neLSReqRxmtTimer) })

	iface.metrics().neighborAdded(nDown)

	return n
}

func (n *Neighbor) State() neighborState {
	return n.handler.state()
}

func (n *Neighbor) sched() sched.Scheduler {
	return n.iface.sched()
}

func (n *Neighbor) db() Database {
	return n.iface.db
}

func (n *Neighbor) handleEvent(event neighborEvent) {
	if n.handler == nil {
		panic(fmt.Sprintf("neighbor %v: event %v delivered with no current state", n.ID, event))
	}

	if event == neSeqNumberMismatch || event == neBadLSReq {
		n.log.Warn("protocol inconsistency", "event", event, "state", n.State())
	} else {
		n.log.Debug("event", "event", event, "state", n.State())
	}
	n.iface.metrics().event(event)

	n.handler.processEvent(n, event)
}

func (n *Neighbor) unexpectedEvent(event neighborEvent) {
	n.log.Debug("unexpected event", "event", event, "state", n.State())
}

func (n *Neighbor) changeState(to stateHandler) {
	from := n.handler.state()
	n.handler = to

	if from == to.state() {
		return
	}

	n.log.Info("state changed", "from", from, "to", to.state())
	n.iface.metrics().transition(from, to.state())
	n.iface.router().neighborChanged(n, from, to.state())

	if from == nFull || to.state() == nFull {
		n.rebuildLSAs()
	}
}

// rebuildLSAs asks the area to re-originate the LSAs that describe this
// adjacency. Origination itself belongs to the database.
func (n *Neighbor) rebuildLSAs() {
	n.db().OriginateRouterLSA()
	if n.iface.Role() == RoleDR {
		n.db().OriginateNetworkLSA(n.iface)
	}
}

// reset empties every list and stops the timers that belong to the
// adjacency. The inactivity and poll timers belong to the Hello protocol
// and are handled by the callers.
func (n *Neighbor) reset() {
	n.databaseSummaryList = nil
	n.linkStateRequestList = nil
	n.retransmissionList = nil
	n.transmittedLSAs = nil
	n.lastTransmittedDD = nil
	n.lastReceivedDD = nil
	n.outstandingLSReq = nil

	s := n.sched()
	s.Cancel(n.ddRxmtTimer)
	s.Cancel(n.updateRxmtTimer)
	s.Cancel(n.lsReqRxmtTimer)
}

func (n *Neighbor) startInactivityTimer() {
	n.sched().Arm(n.inactivityTimer, n.DeadInterval)
}

func (n *Neighbor) stopInactivityTimer() {
	n.sched().Cancel(n.inactivityTimer)
}

func (n *Neighbor) startPollTimer() {
	n.sched().Arm(n.pollTimer, n.iface.PollInterval)
}

func (n *Neighbor) stopPollTimer() {
	n.sched().Cancel(n.pollTimer)
}

func (n *Neighbor) startDDRxmtTimer(d time.Duration) {
	n.sched().Arm(n.ddRxmtTimer, d)
}

func (n *Neighbor) stopDDRxmtTimer() {
	n.sched().Cancel(n.ddRxmtTimer)
}

func (n *Neighbor) nextDDSequenceNumber() {
	if !n.firstAdjacencyInited {
		n.ddSequenceNumber = n.iface.router().ddSequenceSeed()
		n.firstAdjacencyInited = true
	} else {
		n.ddSequenceNumber++
	}
}

// startExStart is the action shared by every transition into ExStart.
func (n *Neighbor) startExStart() {
	n.reset()
	n.nextDDSequenceNumber()
	n.role = ddMaster

	n.changeState(exStartState{})

	n.sendDatabaseDescription(true)
	n.startDDRxmtTimer(n.iface.RxmtInterval)
}

// needAdjacency implements RFC 2328 section 10.4.
func (n *Neighbor) needAdjacency() bool {
	switch n.iface.Type {
	case InterfacePointToPoint, InterfacePointToMultipoint, InterfaceVirtual:
		return true
	}

	if n.iface.Role() == RoleDR || n.iface.Role() == RoleBDR {
		return true
	}

	return n.ID == n.iface.DesignatedRouter || n.ID == n.iface.BackupDesignatedRouter
}

func (n *Neighbor) createDatabaseSummary() {
	n.databaseSummaryList = n.db().Summary(n.iface.Type != InterfaceVirtual)
}

// destination is where packets addressed to this neighbor alone are sent.
func (n *Neighbor) destination() netip.Addr {
	if n.iface.Type == InterfacePointToPoint {
		return AllSPFRouters
	}
	return n.Addr
}

func (n *Neighbor) sendDatabaseDescription(init bool) {
	dd := &DatabaseDescription{
		header:         n.iface.header(TypeDatabaseDescription),
		interfaceMTU:   n.iface.ddMTU(),
		options:        n.iface.options(),
		master:         n.role == ddMaster,
		sequenceNumber: n.ddSequenceNumber,
	}

	if init {
		dd.init = true
		dd.more = true
		dd.master = true
	} else {
		limit := maxPacketLen(n.iface.MTU)
		size := ospfHeaderLen + ddFixedLen
		for len(n.databaseSummaryList) > 0 && size+lsaHeaderLen <= limit {
			dd.lsaHeaders = append(dd.lsaHeaders, n.databaseSummaryList[0])
			n.databaseSummaryList = n.databaseSummaryList[1:]
			size += lsaHeaderLen
		}
		dd.more = len(n.databaseSummaryList) > 0
	}

	n.lastTransmittedDD = dd
	n.iface.send(n.destination(), dd)
}

func (n *Neighbor) retransmitDatabaseDescription() bool {
	if n.lastTransmittedDD == nil {
		return false
	}

	n.iface.metrics().retransmission("dd")
	n.iface.send(n.destination(), n.lastTransmittedDD)
	return true
}

func (n *Neighbor) deleteLastSentDD() {
	n.lastTransmittedDD = nil
}

func (n *Neighbor) findOnRequestList(key LSAKey) int {
	for i := range n.linkStateRequestList {
		if n.linkStateRequestList[i].Key() == key {
			return i
		}
	}
	return -1
}

func (n *Neighbor) addToRequestList(h LSAHeader) {
	if i := n.findOnRequestList(h.Key()); i >= 0 {
		n.linkStateRequestList[i] = h
		return
	}
	n.linkStateRequestList = append(n.linkStateRequestList, h)
}

func (n *Neighbor) removeFromRequestList(key LSAKey) {
	i := n.findOnRequestList(key)
	if i < 0 {
		return
	}

	n.linkStateRequestList = append(n.linkStateRequestList[:i], n.linkStateRequestList[i+1:]...)

	if len(n.linkStateRequestList) == 0 && n.State() == nLoading {
		n.handleEvent(neLoadingDone)
	}
}

// outstandingSatisfied reports whether every LSA named in the outstanding
// Link State Request has been received.
func (n *Neighbor) outstandingSatisfied() bool {
	if n.outstandingLSReq == nil {
		return true
	}

	for _, k := range n.outstandingLSReq.requests {
		if n.findOnRequestList(k) >= 0 {
			return false
		}
	}
	return true
}

// sendLinkStateRequest asks for as much of the head of the request list as
// fits in one packet.
func (n *Neighbor) sendLinkStateRequest() {
	if len(n.linkStateRequestList) == 0 {
		n.outstandingLSReq = nil
		n.sched().Cancel(n.lsReqRxmtTimer)
		return
	}

	lsr := &LinkStateRequest{
		header: n.iface.header(TypeLinkStateRequest),
	}

	limit := maxPacketLen(n.iface.MTU)
	size := ospfHeaderLen
	for i := range n.linkStateRequestList {
		if size+lsrEntryLen > limit {
			break
		}
		lsr.requests = append(lsr.requests, n.linkStateRequestList[i].Key())
		size += lsrEntryLen
	}

	n.outstandingLSReq = lsr
	n.iface.send(n.destination(), lsr)
	n.sched().Arm(n.lsReqRxmtTimer, n.iface.RxmtInterval)
}

func (n *Neighbor) retransmitLinkStateRequest() {
	if n.outstandingLSReq == nil && len(n.linkStateRequestList) == 0 {
		return
	}

	n.iface.metrics().retransmission("request")
	n.sendLinkStateRequest()
}

func (n *Neighbor) findOnRetransmissionList(key LSAKey) *LSA {
	for _, lsa := range n.retransmissionList {
		if lsa.Key() == key {
			return lsa
		}
	}
	return nil
}

// addToRetransmissionList replaces any entry with the same key.
func (n *Neighbor) addToRetransmissionList(lsa *LSA) {
	wasEmpty := len(n.retransmissionList) == 0

	replaced := false
	for i, l := range n.retransmissionList {
		if l.Key() == lsa.Key() {
			n.retransmissionList[i] = lsa
			replaced = true
			break
		}
	}
	if !replaced {
		n.retransmissionList = append(n.retransmissionList, lsa)
	}

	n.checkRetransmissionList()

	if wasEmpty {
		n.sched().Arm(n.updateRxmtTimer, n.iface.RxmtInterval)
	}
}

func (n *Neighbor) checkRetransmissionList() {
	seen := make(map[LSAKey]bool, len(n.retransmissionList))
	for _, lsa := range n.retransmissionList {
		key := lsa.Key()
		if seen[key] {
			panic(fmt.Sprintf("neighbor %v: duplicate key on retransmission list: %v", n.ID, key))
		}
		seen[key] = true
	}
}

func (n *Neighbor) removeFromRetransmissionList(key LSAKey) bool {
	for i, lsa := range n.retransmissionList {
		if lsa.Key() != key {
			continue
		}

		n.retransmissionList = append(n.retransmissionList[:i], n.retransmissionList[i+1:]...)
		if len(n.retransmissionList) == 0 {
			n.sched().Cancel(n.updateRxmtTimer)
		}
		return true
	}
	return false
}

func (n *Neighbor) retransmitUpdates() {
	if len(n.retransmissionList) == 0 {
		return
	}

	n.iface.metrics().retransmission("update")
	for _, lsu := range n.iface.updatePackets(n.retransmissionList) {
		n.iface.send(n.Addr, lsu)
	}
	n.sched().Arm(n.updateRxmtTimer, n.iface.RxmtInterval)
}

func (n *Neighbor) addToTransmittedLSAs(key LSAKey) {
	for i := range n.transmittedLSAs {
		if n.transmittedLSAs[i].key == key {
			n.transmittedLSAs[i].age = 0
			return
		}
	}
	n.transmittedLSAs = append(n.transmittedLSAs, transmittedLSA{key: key})
}

func (n *Neighbor) isOnTransmittedLSAList(key LSAKey) bool {
	for _, t := range n.transmittedLSAs {
		if t.key == key {
			return true
		}
	}
	return false
}

// ageTransmittedLSAs runs once per aging tick.
func (n *Neighbor) ageTransmittedLSAs() {
	kept := n.transmittedLSAs[:0]
	for _, t := range n.transmittedLSAs {
		t.age++
		if t.age < MinLSArrival {
			kept = append(kept, t)
		}
	}
	n.transmittedLSAs = kept
}

func (n *Neighbor) sendAck(headers []LSAHeader) {
	ack := &LinkStateAcknowledgement{
		header:     n.iface.header(TypeLinkStateAcknowledgement),
		lsaHeaders: headers,
	}
	n.iface.send(n.destination(), ack)
}

type NeighborStatus struct {
	Router    common.RouterID
	Area      common.AreaID
	Interface string
	ID        common.RouterID
	Addr      netip.Addr
	State     string
	Adjacent  bool
	Role      string

	SummaryList        int
	RequestList        int
	RetransmissionList int
}

func (n *Neighbor) Status() NeighborStatus {
	return NeighborStatus{
		Router:             n.iface.routerID(),
		Area:               n.iface.area.ID,
		Interface:          n.iface.Name,
		ID:                 n.ID,
		Addr:               n.Addr,
		State:              n.State().String(),
		Adjacent:           n.State() == nFull,
		Role:               n.role.String(),
		SummaryList:        len(n.databaseSummaryList),
		RequestList:        len(n.linkStateRequestList),
		RetransmissionList: len(n.retransmissionList),
	}
}

// maxPacketLen is the largest OSPF packet that fits in a single IPv4
// datagram on a link with the given MTU.
func maxPacketLen(mtu int) int {
	if mtu < ipv4MaxHdrLen+ospfHeaderLen+ddFixedLen+lsaHeaderLen || mtu > ipv4MaxDatagram {
		mtu = ipv4MaxDatagram
	}
	return mtu - ipv4MaxHdrLen
}
