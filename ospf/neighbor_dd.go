package ospf

func (n *Neighbor) isDuplicateDatabaseDescription(dd *DatabaseDescription) bool {
	return n.lastReceivedDD != nil && *n.lastReceivedDD == idOf(dd)
}

func (n *Neighbor) recordReceivedDatabaseDescription(dd *DatabaseDescription) {
	id := idOf(dd)
	n.lastReceivedDD = &id
}

// handleDatabaseDescription implements RFC 2328 section 10.6.
func (n *Neighbor) handleDatabaseDescription(dd *DatabaseDescription) {
	if n.iface.Type != InterfaceVirtual && int(dd.interfaceMTU) > n.iface.MTU {
		n.log.Warn("database description mtu too large", "mtu", dd.interfaceMTU, "ours", n.iface.MTU)
		return
	}

	switch n.State() {
	case nDown, nAttempt, n2Way:
		return
	case nInit:
		n.handleEvent(ne2WayReceived)
		if n.State() != nExStart {
			return
		}
		n.handleDatabaseDescriptionInExStart(dd)
	case nExStart:
		n.handleDatabaseDescriptionInExStart(dd)
	case nExchange:
		n.handleDatabaseDescriptionInExchange(dd)
	case nLoading, nFull:
		if !n.isDuplicateDatabaseDescription(dd) {
			n.handleEvent(neSeqNumberMismatch)
			return
		}

		// Only the slave keeps its last packet after the exchange.
		if n.role == ddSlave {
			n.retransmitDatabaseDescription()
		}
	}
}

func (n *Neighbor) handleDatabaseDescriptionInExStart(dd *DatabaseDescription) {
	ourID := n.iface.routerID()

	if dd.init && dd.more && dd.master && len(dd.lsaHeaders) == 0 && dd.routerID > ourID {
		n.role = ddSlave
		n.ddSequenceNumber = dd.sequenceNumber
		n.Options = dd.options
		n.recordReceivedDatabaseDescription(dd)

		n.handleEvent(neNegotiationDone)
		return
	}

	if !dd.init && !dd.master && dd.sequenceNumber == n.ddSequenceNumber && dd.routerID < ourID {
		n.role = ddMaster
		n.Options = dd.options
		n.recordReceivedDatabaseDescription(dd)
		n.ddSequenceNumber++

		n.handleEvent(neNegotiationDone)

		if n.processDatabaseDescriptionHeaders(dd) {
			n.requestIfIdle()
		}
		return
	}

	n.log.Debug("ignoring database description in ExStart", "init", dd.init, "master", dd.master, "seq", dd.sequenceNumber)
}

func (n *Neighbor) handleDatabaseDescriptionInExchange(dd *DatabaseDescription) {
	if n.isDuplicateDatabaseDescription(dd) {
		if n.role == ddSlave {
			n.retransmitDatabaseDescription()
		}
		return
	}

	if dd.master != (n.role == ddSlave) || dd.init || dd.options != n.Options {
		n.handleEvent(neSeqNumberMismatch)
		return
	}

	var expected uint32
	if n.role == ddMaster {
		expected = n.ddSequenceNumber
	} else {
		expected = n.ddSequenceNumber + 1
	}

	if dd.sequenceNumber != expected {
		n.handleEvent(neSeqNumberMismatch)
		return
	}

	n.recordReceivedDatabaseDescription(dd)

	if !n.processDatabaseDescriptionHeaders(dd) {
		return
	}

	if n.role == ddMaster {
		if !dd.more && n.lastTransmittedDD != nil && !n.lastTransmittedDD.more {
			n.handleEvent(neExchangeDone)
		} else {
			n.ddSequenceNumber++
			n.sendDatabaseDescription(false)
			n.startDDRxmtTimer(n.iface.RxmtInterval)
		}
	} else {
		n.ddSequenceNumber = dd.sequenceNumber
		n.sendDatabaseDescription(false)

		if !dd.more && !n.lastTransmittedDD.more {
			n.handleEvent(neExchangeDone)
		}
	}

	n.requestIfIdle()
}

// processDatabaseDescriptionHeaders adds every header that describes an LSA
// we are missing, or an instance newer than ours, to the request list. It
// reports false if the packet caused the exchange to restart.
func (n *Neighbor) processDatabaseDescriptionHeaders(dd *DatabaseDescription) bool {
	for i := range dd.lsaHeaders {
		h := &dd.lsaHeaders[i]

		if !h.Type.valid() || (h.Type == LSTypeASExternal && n.iface.Type == InterfaceVirtual) {
			n.handleEvent(neSeqNumberMismatch)
			return false
		}

		if n.db().IsFresherThanLocal(h) {
			n.addToRequestList(*h)
		}
	}

	return true
}

// requestIfIdle starts requesting LSAs if nothing is outstanding.
func (n *Neighbor) requestIfIdle() {
	state := n.State()
	if state != nExchange && state != nLoading {
		return
	}

	if len(n.linkStateRequestList) > 0 && n.outstandingLSReq == nil {
		n.sendLinkStateRequest()
	}
}
