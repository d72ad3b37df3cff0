package ospf

// stateHandler is the behavior of one neighbor state. Handlers hold no
// data; everything lives on the Neighbor.
type stateHandler interface {
	state() neighborState
	processEvent(n *Neighbor, event neighborEvent)
}

// handleCommonEvents handles the events that have the same effect in
// every state.
func (n *Neighbor) handleCommonEvents(event neighborEvent) (handled bool) {
	switch event {
	case neKillNbr, neLLDown:
		n.reset()
		n.stopInactivityTimer()
		n.stopPollTimer()
		n.changeState(downState{})
		return true
	case neInactivityTimer:
		n.reset()
		n.stopInactivityTimer()
		if n.iface.Type == InterfaceNBMA {
			n.startPollTimer()
		}
		n.changeState(downState{})
		return true
	default:
		return false
	}
}

// handleCommonAdjacencyEvents handles the events shared by ExStart,
// Exchange, Loading and Full.
func (n *Neighbor) handleCommonAdjacencyEvents(event neighborEvent) (handled bool) {
	switch event {
	case neHelloReceived:
		n.startInactivityTimer()
		return true
	case ne2WayReceived:
		return true
	case ne1WayReceived:
		n.reset()
		n.changeState(initState{})
		return true
	case neAdjOK:
		if !n.needAdjacency() {
			n.reset()
			n.changeState(twoWayState{})
		}
		return true
	default:
		return false
	}
}

type downState struct{}

func (downState) state() neighborState { return nDown }

func (downState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) {
		return
	}

	switch event {
	case neStart:
		// NBMA only
		n.iface.sendHello(n.Addr)
		n.startInactivityTimer()
		n.changeState(attemptState{})
	case neHelloReceived:
		n.stopPollTimer()
		n.startInactivityTimer()
		n.changeState(initState{})
	case nePollTimer:
		n.iface.sendHello(n.Addr)
		n.startPollTimer()
	default:
		n.unexpectedEvent(event)
	}
}

type attemptState struct{}

func (attemptState) state() neighborState { return nAttempt }

func (attemptState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) {
		return
	}

	switch event {
	case neHelloReceived:
		n.startInactivityTimer()
		n.changeState(initState{})
	default:
		n.unexpectedEvent(event)
	}
}

type initState struct{}

func (initState) state() neighborState { return nInit }

func (initState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) {
		return
	}

	switch event {
	case neHelloReceived:
		n.startInactivityTimer()
	case ne1WayReceived:
		// do nothing
	case ne2WayReceived:
		if n.needAdjacency() {
			n.startExStart()
		} else {
			n.changeState(twoWayState{})
		}
	default:
		n.unexpectedEvent(event)
	}
}

type twoWayState struct{}

func (twoWayState) state() neighborState { return n2Way }

func (twoWayState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) {
		return
	}

	switch event {
	case neHelloReceived:
		n.startInactivityTimer()
	case ne2WayReceived:
		// do nothing
	case ne1WayReceived:
		n.reset()
		n.changeState(initState{})
	case neAdjOK:
		if n.needAdjacency() {
			n.startExStart()
		}
	default:
		n.unexpectedEvent(event)
	}
}

type exStartState struct{}

func (exStartState) state() neighborState { return nExStart }

func (exStartState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) || n.handleCommonAdjacencyEvents(event) {
		return
	}

	switch event {
	case neNegotiationDone:
		n.createDatabaseSummary()
		n.changeState(exchangeState{})

		n.sendDatabaseDescription(false)
		n.stopDDRxmtTimer()
		if n.role == ddMaster {
			n.startDDRxmtTimer(n.iface.RxmtInterval)
		}
	case neDDRxmtTimer:
		n.retransmitDatabaseDescription()
		n.startDDRxmtTimer(n.iface.RxmtInterval)
	case neSeqNumberMismatch, neBadLSReq:
		n.startExStart()
	default:
		n.unexpectedEvent(event)
	}
}

type exchangeState struct{}

func (exchangeState) state() neighborState { return nExchange }

func (exchangeState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) || n.handleCommonAdjacencyEvents(event) {
		return
	}

	switch event {
	case neExchangeDone:
		// The slave keeps its last Database Description for a dead
		// interval so it can answer a retransmission of the master's
		// final packet.
		n.startDDRxmtTimer(n.DeadInterval)

		// The request list can be emptied by another neighbor's flood
		// while a request is still outstanding.
		if len(n.linkStateRequestList) == 0 {
			n.outstandingLSReq = nil
			n.sched().Cancel(n.lsReqRxmtTimer)
			n.changeState(fullState{})
			return
		}

		n.changeState(loadingState{})
		if n.outstandingLSReq == nil {
			n.sendLinkStateRequest()
		}
	case neSeqNumberMismatch, neBadLSReq:
		n.startExStart()
	case neDDRxmtTimer:
		if n.role == ddMaster {
			n.retransmitDatabaseDescription()
			n.startDDRxmtTimer(n.iface.RxmtInterval)
		}
	case neUpdateRxmtTimer:
		n.retransmitUpdates()
	case neLSReqRxmtTimer:
		n.retransmitLinkStateRequest()
	default:
		n.unexpectedEvent(event)
	}
}

type loadingState struct{}

func (loadingState) state() neighborState { return nLoading }

func (loadingState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) || n.handleCommonAdjacencyEvents(event) {
		return
	}

	switch event {
	case neLoadingDone:
		n.outstandingLSReq = nil
		n.sched().Cancel(n.lsReqRxmtTimer)
		n.changeState(fullState{})
	case neSeqNumberMismatch, neBadLSReq:
		n.startExStart()
	case neDDRxmtTimer:
		n.deleteLastSentDD()
	case neUpdateRxmtTimer:
		n.retransmitUpdates()
	case neLSReqRxmtTimer:
		n.retransmitLinkStateRequest()
	default:
		n.unexpectedEvent(event)
	}
}

type fullState struct{}

func (fullState) state() neighborState { return nFull }

func (fullState) processEvent(n *Neighbor, event neighborEvent) {
	if n.handleCommonEvents(event) || n.handleCommonAdjacencyEvents(event) {
		return
	}

	switch event {
	case neSeqNumberMismatch, neBadLSReq:
		n.startExStart()
	case neDDRxmtTimer:
		n.deleteLastSentDD()
	case neUpdateRxmtTimer:
		n.retransmitUpdates()
	default:
		n.unexpectedEvent(event)
	}
}
