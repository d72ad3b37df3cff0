package ospf

import (
	"net/netip"
)

// Transport hands encoded packets to the network. Implementations must
// not call back into the engine synchronously; received packets are
// delivered through the router's scheduler.
type Transport interface {
	Send(dst netip.Addr, p Packet, ttl uint8)
}

// Database is the per-area link state database as seen by the adjacency
// engine. Area is the production implementation.
type Database interface {
	Lookup(key LSAKey) (*LSA, bool)

	// IsFresherThanLocal reports whether h describes a more recent
	// instance than the installed copy, or whether there is no installed
	// copy at all.
	IsFresherThanLocal(h *LSAHeader) bool

	// RecentlyInstalled reports whether the installed copy of key arrived
	// less than MinLSArrival ago.
	RecentlyInstalled(key LSAKey) bool

	// Summary returns the headers of every LSA that belongs in a Database
	// summary list. AS-external LSAs are left out unless includeExternal
	// is set.
	Summary(includeExternal bool) []LSAHeader

	// Flood installs lsa and floods it out of every interface in the
	// area. It reports whether lsa was sent back out of the interface it
	// was received on.
	Flood(lsa *LSA, from *Neighbor) (floodedBack bool)

	// NeighborsInExchange reports whether any neighbor in the area is in
	// Exchange or Loading.
	NeighborsInExchange() bool

	OriginateRouterLSA()
	OriginateNetworkLSA(iface *Interface)
}
