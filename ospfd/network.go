package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/davidbalbert/ospfsync/chatterd/common"
	"github.com/davidbalbert/ospfsync/config"
	"github.com/davidbalbert/ospfsync/netsim"
	"github.com/davidbalbert/ospfsync/ospf"
	"github.com/davidbalbert/ospfsync/sched"
)

// network is a running topology: one router per configured router, one
// netsim segment per link. Interfaces that aren't on a link get a segment
// of their own.
type network struct {
	conf    *config.Config
	net     *netsim.Network
	routers map[string]*ospf.Router
	scheds  map[string]sched.Scheduler
	links   map[config.Endpoint]*config.Link
}

func buildNetwork(conf *config.Config, schedFor func(name string) sched.Scheduler, log *slog.Logger, opts ...ospf.Option) (*network, error) {
	n := &network{
		conf:    conf,
		net:     netsim.New(netsim.WithDelay(conf.LinkDelay), netsim.WithLogger(log.With("component", "netsim"))),
		routers: make(map[string]*ospf.Router),
		scheds:  make(map[string]sched.Scheduler),
		links:   make(map[config.Endpoint]*config.Link),
	}

	for i := range conf.Links {
		for _, e := range conf.Links[i].Endpoints {
			n.links[e] = &conf.Links[i]
		}
	}

	for _, name := range conf.RouterNames() {
		rc := conf.Routers[name]
		s := schedFor(name)

		ropts := append([]ospf.Option{ospf.WithLogger(log.With("name", name))}, opts...)
		r := ospf.NewRouter(rc.RouterID, s, ropts...)

		for _, ic := range rc.Interfaces() {
			e := config.Endpoint{Router: name, Interface: ic.Name}

			segName := e.String()
			if l, ok := n.links[e]; ok {
				segName = l.Name
			}

			port, err := n.net.Segment(segName).Port(ic.Prefix.Addr(), s)
			if err != nil {
				return nil, err
			}

			iface, err := r.Area(ic.AreaID).AddInterface(ic.OSPF(), port)
			if err != nil {
				return nil, fmt.Errorf("%v: %w", e, err)
			}
			port.Attach(iface)
		}

		for _, lc := range rc.LSAs {
			if err := r.Area(lc.Area).Install(lc.LSA()); err != nil {
				return nil, fmt.Errorf("router %s: %w", name, err)
			}
		}

		n.routers[name] = r
		n.scheds[name] = s
	}

	return n, nil
}

// wantsAdjacency reports whether the neighbor reported by st should end
// up Full. On broadcast and NBMA segments a router only becomes adjacent
// with the DR and BDR, unless it is one of them.
func (n *network) wantsAdjacency(name string, st ospf.NeighborStatus) bool {
	local, ok := n.conf.Routers[name].Interface(st.Interface)
	if !ok {
		return false
	}

	if local.Type != ospf.InterfaceBroadcast && local.Type != ospf.InterfaceNBMA {
		return true
	}

	if local.Role != ospf.RoleDROther {
		return true
	}

	return st.ID == local.DesignatedRouter || st.ID == local.BackupDesignatedRouter
}

// expectedNeighbors is the number of neighbors router name has once every
// link is up.
func (n *network) expectedNeighbors(name string) int {
	count := 0
	for _, ic := range n.conf.Routers[name].Interfaces() {
		if l, ok := n.links[config.Endpoint{Router: name, Interface: ic.Name}]; ok {
			count += len(l.Endpoints) - 1
		}
	}
	return count
}

type lsaInstance struct {
	key string
	seq int32
}

func instances(a *ospf.Area) []lsaInstance {
	var out []lsaInstance
	for _, h := range a.Headers() {
		out = append(out, lsaInstance{h.Key().String(), h.SequenceNumber})
	}
	return out
}

// synchronized reports whether every neighbor has reached its final state
// with nothing left to request or retransmit, and whether all routers in
// an area hold the same instances.
func (n *network) synchronized() bool {
	areas := make(map[common.AreaID][]lsaInstance)

	for _, name := range n.conf.RouterNames() {
		r := n.routers[name]

		statuses := r.NeighborStatuses()
		if len(statuses) != n.expectedNeighbors(name) {
			return false
		}

		for _, st := range statuses {
			want := "2-Way"
			if n.wantsAdjacency(name, st) {
				want = "Full"
			}

			if st.State != want || st.RequestList > 0 || st.RetransmissionList > 0 {
				return false
			}
		}

		for _, a := range r.Areas() {
			got := instances(a)
			if want, ok := areas[a.ID]; ok && !slices.Equal(want, got) {
				return false
			}
			areas[a.ID] = got
		}
	}

	return true
}

// start must be called with no scheduler running, or from each router's
// own scheduler.
func (n *network) start() {
	for _, name := range n.conf.RouterNames() {
		n.routers[name].Start()
	}
}
