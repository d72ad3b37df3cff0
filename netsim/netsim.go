// Package netsim is an in-memory network for OSPF routers. Packets are
// encoded on send and decoded on delivery, so everything that crosses a
// segment goes through the wire format. Delivery is posted to the
// receiving router's scheduler after the network's link delay.
package netsim

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/davidbalbert/ospfsync/ospf"
	"github.com/davidbalbert/ospfsync/sched"
)

// Filter decides whether a packet is delivered. Returning false drops it.
type Filter func(src, dst netip.Addr, p ospf.Packet) bool

type Network struct {
	delay time.Duration
	log   *slog.Logger

	mu       sync.Mutex
	segments map[string]*Segment
	filter   Filter

	sent      int
	delivered int
	dropped   int
}

type Option func(*Network)

func WithDelay(d time.Duration) Option {
	return func(n *Network) {
		n.delay = d
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Network) {
		n.log = l
	}
}

func New(opts ...Option) *Network {
	n := &Network{
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		segments: make(map[string]*Segment),
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

// SetFilter installs f for every segment. A nil filter delivers everything.
func (n *Network) SetFilter(f Filter) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.filter = f
}

type Stats struct {
	Sent      int
	Delivered int
	Dropped   int
}

func (n *Network) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	return Stats{Sent: n.sent, Delivered: n.delivered, Dropped: n.dropped}
}

// Segment returns the named segment, creating it if needed.
func (n *Network) Segment(name string) *Segment {
	n.mu.Lock()
	defer n.mu.Unlock()

	s, ok := n.segments[name]
	if !ok {
		s = &Segment{name: name, net: n}
		n.segments[name] = s
	}
	return s
}

type Segment struct {
	name string
	net  *Network

	// guarded by net.mu
	ports []*Port
	down  bool
}

func (s *Segment) String() string {
	return s.name
}

// SetDown stops (or resumes) delivery on the segment.
func (s *Segment) SetDown(down bool) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()

	s.down = down
}

// Port adds an attachment point with address addr whose deliveries run on
// sc.
func (s *Segment) Port(addr netip.Addr, sc sched.Scheduler) (*Port, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()

	for _, p := range s.ports {
		if p.addr == addr {
			return nil, fmt.Errorf("netsim: segment %s: address %v already in use", s.name, addr)
		}
	}

	p := &Port{seg: s, addr: addr, sched: sc}
	s.ports = append(s.ports, p)
	return p, nil
}

// Port is an ospf.Transport.
type Port struct {
	seg   *Segment
	addr  netip.Addr
	sched sched.Scheduler

	mu    sync.Mutex
	iface *ospf.Interface
}

func (p *Port) Addr() netip.Addr {
	return p.addr
}

func (p *Port) Attach(iface *ospf.Interface) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.iface = iface
}

func (p *Port) attached() *ospf.Interface {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.iface
}

func (p *Port) Send(dst netip.Addr, pkt ospf.Packet, ttl uint8) {
	data := ospf.Encode(pkt)

	n := p.seg.net
	n.mu.Lock()
	n.sent++

	if p.seg.down {
		n.dropped++
		n.mu.Unlock()
		return
	}

	var targets []*Port
	for _, q := range p.seg.ports {
		if q == p {
			continue
		}
		if dst.IsMulticast() || q.addr == dst {
			targets = append(targets, q)
		}
	}
	filter := n.filter
	n.mu.Unlock()

	for _, q := range targets {
		// Every receiver gets its own decoded copy.
		decoded, err := ospf.Decode(p.addr, data)
		if err != nil {
			n.log.Warn("dropping undecodable packet", "segment", p.seg.name, "src", p.addr, "err", err)
			n.count(false)
			continue
		}

		if filter != nil && !filter(p.addr, q.addr, decoded) {
			n.log.Debug("filtered", "segment", p.seg.name, "src", p.addr, "dst", q.addr)
			n.count(false)
			continue
		}

		n.count(true)
		q.sched.Post(n.delay, func() {
			if iface := q.attached(); iface != nil {
				iface.Receive(dst, decoded)
			}
		})
	}
}

func (n *Network) count(delivered bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if delivered {
		n.delivered++
	} else {
		n.dropped++
	}
}
