package ospf

import (
	"net/netip"
	"time"
)

// handleLinkStateRequest implements RFC 2328 section 10.7.
func (n *Neighbor) handleLinkStateRequest(lsr *LinkStateRequest) {
	if n.State() < nExchange {
		return
	}

	lsas := make([]*LSA, 0, len(lsr.requests))
	for _, key := range lsr.requests {
		lsa, ok := n.db().Lookup(key)
		if !ok {
			n.log.Warn("requested lsa not in database", "lsa", key)
			n.handleEvent(neBadLSReq)
			return
		}
		lsas = append(lsas, lsa)
	}

	for _, lsu := range n.iface.updatePackets(lsas) {
		n.iface.send(n.destination(), lsu)
	}
}

// handleLinkStateUpdate implements RFC 2328 section 13.
func (n *Neighbor) handleLinkStateUpdate(lsu *LinkStateUpdate) {
	if n.State() < nExchange {
		return
	}

	var acks []LSAHeader

	for _, lsa := range lsu.lsas {
		// 1) and 2)
		if !lsa.IsChecksumValid() || !lsa.Type.valid() {
			n.log.Debug("discarding invalid lsa", "lsa", &lsa.LSAHeader)
			continue
		}

		// 3)
		if lsa.Type == LSTypeASExternal && n.iface.Type == InterfaceVirtual {
			continue
		}

		key := lsa.Key()
		local, haveLocal := n.db().Lookup(key)

		// 4) MaxAge LSA we don't have and nobody is synchronizing.
		if lsa.Age == MaxAge && !haveLocal && !n.db().NeighborsInExchange() {
			acks = append(acks, lsa.LSAHeader)
			continue
		}

		// 5) Newer or missing.
		if !haveLocal || lsa.Compare(&local.LSAHeader) > 0 {
			if haveLocal && n.db().RecentlyInstalled(key) {
				n.log.Debug("discarding lsa received within MinLSArrival", "lsa", &lsa.LSAHeader)
				continue
			}

			floodedBack := n.db().Flood(lsa, n)
			if !floodedBack {
				acks = append(acks, lsa.LSAHeader)
			}

			n.removeFromRequestList(key)
			if n.State() < nExchange {
				return
			}
			continue
		}

		// 6)
		if n.findOnRequestList(key) >= 0 {
			n.handleEvent(neBadLSReq)
			return
		}

		// 7) Same instance.
		if lsa.Compare(&local.LSAHeader) == 0 {
			if !n.removeFromRetransmissionList(key) {
				acks = append(acks, lsa.LSAHeader)
			}
			continue
		}

		// 8) Our copy is newer.
		if local.Age == MaxAge && local.SequenceNumber == MaxSequenceNumber {
			continue
		}

		if !n.isOnTransmittedLSAList(key) {
			for _, p := range n.iface.updatePackets([]*LSA{local}) {
				n.iface.send(n.Addr, p)
			}
			n.addToTransmittedLSAs(key)
		}
	}

	if len(acks) > 0 {
		n.sendAck(acks)
	}

	if n.outstandingLSReq != nil && n.outstandingSatisfied() {
		n.sendLinkStateRequest()
	}
}

// handleLinkStateAcknowledgement implements RFC 2328 section 13.7.
func (n *Neighbor) handleLinkStateAcknowledgement(ack *LinkStateAcknowledgement) {
	if n.State() < nExchange {
		return
	}

	for i := range ack.lsaHeaders {
		h := &ack.lsaHeaders[i]

		lsa := n.findOnRetransmissionList(h.Key())
		if lsa == nil {
			continue
		}

		if lsa.Compare(h) == 0 {
			n.removeFromRetransmissionList(h.Key())
		} else {
			n.log.Debug("questionable acknowledgement", "lsa", h)
		}
	}
}

// floodLSA implements RFC 2328 section 13.3 for one interface. It
// reports whether the LSA went back out of the interface it arrived on.
func (iface *Interface) floodLSA(lsa *LSA, from *Neighbor) bool {
	key := lsa.Key()
	var recipients []*Neighbor

	// 1) Examine each neighbor on the interface.
	for _, n := range iface.sortedNeighbors() {
		// 1a) Don't flood to neighbors in state less than Exchange
		if n.State() < nExchange {
			continue
		}

		// 1b) Handle neighbors that are doing database exchange
		if n.State() == nExchange || n.State() == nLoading {
			if i := n.findOnRequestList(key); i >= 0 {
				cmp := lsa.Compare(&n.linkStateRequestList[i])

				if cmp < 0 {
					continue
				}

				n.removeFromRequestList(key)
				if cmp == 0 {
					continue
				}
			}
		}

		// 1c) Skip the neighbor that we received the LSA from
		if n == from {
			continue
		}

		// 1d) Add this LSA to the neighbor's retransmission list
		n.addToRetransmissionList(lsa)
		recipients = append(recipients, n)
	}

	// 2) If we didn't add the LSA to any neighbor's retransmission list, skip this interface
	if len(recipients) == 0 {
		return false
	}

	receivedHere := from != nil && from.iface == iface
	if receivedHere {
		// 3) If we received the LSA on this interface from a DR or BDR, skip this interface
		if from.ID == iface.DesignatedRouter || from.ID == iface.BackupDesignatedRouter {
			return false
		}

		// 4) If we're the BDR on this interface, skip this interface
		if iface.Role() == RoleBDR {
			return false
		}
	}

	// 5) Send it.
	packets := iface.updatePackets([]*LSA{lsa})
	for _, dst := range iface.floodDestinations(recipients) {
		for _, p := range packets {
			iface.send(dst, p)
		}
	}

	for _, n := range recipients {
		n.addToTransmittedLSAs(key)
	}

	return receivedHere
}

// floodDestinations picks the addresses a flooded update is sent to.
func (iface *Interface) floodDestinations(recipients []*Neighbor) []netip.Addr {
	switch iface.Type {
	case InterfacePointToPoint:
		return []netip.Addr{AllSPFRouters}
	case InterfaceBroadcast:
		if iface.Role() == RoleDR || iface.Role() == RoleBDR {
			return []netip.Addr{AllSPFRouters}
		}
		return []netip.Addr{AllDRouters}
	default:
		dsts := make([]netip.Addr, 0, len(recipients))
		for _, n := range recipients {
			dsts = append(dsts, n.Addr)
		}
		return dsts
	}
}

// updatePackets packs lsas into as few Link State Update packets as the
// MTU allows. Every LSA is aged by the interface's transmission delay.
func (iface *Interface) updatePackets(lsas []*LSA) []*LinkStateUpdate {
	limit := maxPacketLen(iface.MTU)
	delay := uint16(min(iface.TransmitDelay/time.Second, MaxAge))

	var packets []*LinkStateUpdate
	var cur *LinkStateUpdate
	size := 0

	for _, lsa := range lsas {
		l := int(lsa.Length)
		if cur == nil || (len(cur.lsas) > 0 && size+l > limit) {
			cur = &LinkStateUpdate{header: iface.header(TypeLinkStateUpdate)}
			packets = append(packets, cur)
			size = ospfHeaderLen + lsuFixedLen
		}

		cur.lsas = append(cur.lsas, lsa.aged(delay))
		size += l
	}

	return packets
}
