package ospf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/davidbalbert/ospfsync/chatterd/common"
)

const (
	ospfHeaderLen   = 24
	helloFixedLen   = 20
	ddFixedLen      = 8
	lsrEntryLen     = 12
	lsuFixedLen     = 4
	ipv4MaxHdrLen   = 60
	ipv4MaxDatagram = 65535

	virtualLinkTTL = 64
)

// Options
const (
	optE  uint8 = 0x02
	optMC uint8 = 0x04
	optNP uint8 = 0x08
)

// Database Description flags
const (
	ddFlagMS uint8 = 0x01
	ddFlagM  uint8 = 0x02
	ddFlagI  uint8 = 0x04
)

var (
	AllSPFRouters = netip.MustParseAddr("224.0.0.5")
	AllDRouters   = netip.MustParseAddr("224.0.0.6")
)

func checksum(data ...[]byte) uint16 {
	var sum uint32
	for _, d := range data {
		l := len(d)
		for i := 0; i < l; i += 2 {
			if i+1 < l {
				sum += uint32(d[i])<<8 | uint32(d[i+1])
			} else {
				sum += uint32(d[i]) << 8
			}
		}
	}

	sum = (sum >> 16) + (sum & 0xffff)
	sum += sum >> 16

	return ^uint16(sum)
}

type messageType uint8

const (
	TypeHello messageType = iota + 1
	TypeDatabaseDescription
	TypeLinkStateRequest
	TypeLinkStateUpdate
	TypeLinkStateAcknowledgement
)

func (t messageType) String() string {
	switch t {
	case TypeHello:
		return "Hello"
	case TypeDatabaseDescription:
		return "Database Description"
	case TypeLinkStateRequest:
		return "Link State Request"
	case TypeLinkStateUpdate:
		return "Link State Update"
	case TypeLinkStateAcknowledgement:
		return "Link State Acknowledgement"
	default:
		return "Unknown"
	}
}

type Packet interface {
	fmt.Stringer
	hdr() *header
	encode() []byte
}

// Encode returns the wire form of p, checksum included.
func Encode(p Packet) []byte {
	return p.encode()
}

type header struct {
	messageType
	length   uint16
	routerID common.RouterID
	areaID   common.AreaID
	checksum uint16

	src netip.Addr
}

func (h *header) hdr() *header {
	return h
}

func (h *header) RouterID() common.RouterID {
	return h.routerID
}

func (h *header) encodeTo(data []byte) {
	data[0] = 2
	data[1] = uint8(h.messageType)
	binary.BigEndian.PutUint16(data[2:4], h.length)
	binary.BigEndian.PutUint32(data[4:8], uint32(h.routerID))
	binary.BigEndian.PutUint32(data[8:12], uint32(h.areaID))

	// Skip Checksum - data[12:14]. finish fills it in at the end.
	// AuType and Authentication are always zero.
}

func (h *header) finish(data []byte) []byte {
	h.checksum = checksum(data[0:16], data[24:])
	binary.BigEndian.PutUint16(data[12:14], h.checksum)
	return data
}

func (h *header) String() string {
	return fmt.Sprintf("OSPFv2 %s router=%s area=%s", h.messageType, h.routerID, h.areaID)
}

type Hello struct {
	header

	networkMask        net.IPMask
	helloInterval      uint16
	options            uint8
	routerPriority     uint8
	routerDeadInterval uint32
	dRouter            netip.Addr
	bdRouter           netip.Addr
	neighbors          []common.RouterID
}

func (hello *Hello) String() string {
	var b bytes.Buffer

	fmt.Fprint(&b, hello.header.String())
	fmt.Fprintf(&b, " mask=%s interval=%d options=0x%x priority=%d dead=%d dr=%s bdr=%s", net.IP(hello.networkMask), hello.helloInterval, hello.options, hello.routerPriority, hello.routerDeadInterval, hello.dRouter, hello.bdRouter)

	for _, n := range hello.neighbors {
		fmt.Fprintf(&b, "\n  neighbor=%s", n)
	}

	return b.String()
}

func (hello *Hello) netmaskBits() int {
	ones, _ := hello.networkMask.Size()

	return ones
}

func (hello *Hello) encode() []byte {
	hello.length = ospfHeaderLen + helloFixedLen + uint16(len(hello.neighbors)*4)

	data := make([]byte, hello.length)
	hello.header.encodeTo(data)

	copy(data[24:28], hello.networkMask)
	binary.BigEndian.PutUint16(data[28:30], hello.helloInterval)
	data[30] = hello.options
	data[31] = hello.routerPriority
	binary.BigEndian.PutUint32(data[32:36], hello.routerDeadInterval)
	copy(data[36:40], to4(hello.dRouter))
	copy(data[40:44], to4(hello.bdRouter))
	for i, neighbor := range hello.neighbors {
		binary.BigEndian.PutUint32(data[44+i*4:48+i*4], uint32(neighbor))
	}

	return hello.finish(data)
}

type DatabaseDescription struct {
	header

	interfaceMTU   uint16
	options        uint8
	init           bool
	more           bool
	master         bool
	sequenceNumber uint32
	lsaHeaders     []LSAHeader
}

func (dd *DatabaseDescription) flags() uint8 {
	var f uint8
	if dd.init {
		f |= ddFlagI
	}
	if dd.more {
		f |= ddFlagM
	}
	if dd.master {
		f |= ddFlagMS
	}
	return f
}

func (dd *DatabaseDescription) String() string {
	var b bytes.Buffer

	fmt.Fprint(&b, dd.header.String())
	fmt.Fprintf(&b, " mtu=%d options=0x%x", dd.interfaceMTU, dd.options)
	if dd.init {
		fmt.Fprint(&b, " I")
	}
	if dd.more {
		fmt.Fprint(&b, " M")
	}
	if dd.master {
		fmt.Fprint(&b, " MS")
	}
	fmt.Fprintf(&b, " seq=%d", dd.sequenceNumber)

	for i := range dd.lsaHeaders {
		fmt.Fprintf(&b, "\n  %s", &dd.lsaHeaders[i])
	}

	return b.String()
}

func (dd *DatabaseDescription) encode() []byte {
	dd.length = ospfHeaderLen + ddFixedLen + uint16(len(dd.lsaHeaders)*lsaHeaderLen)

	data := make([]byte, dd.length)
	dd.header.encodeTo(data)

	binary.BigEndian.PutUint16(data[24:26], dd.interfaceMTU)
	data[26] = dd.options
	data[27] = dd.flags()
	binary.BigEndian.PutUint32(data[28:32], dd.sequenceNumber)

	for i := range dd.lsaHeaders {
		off := ospfHeaderLen + ddFixedLen + i*lsaHeaderLen
		dd.lsaHeaders[i].encodeTo(data[off : off+lsaHeaderLen])
	}

	return dd.finish(data)
}

type LinkStateRequest struct {
	header

	requests []LSAKey
}

func (lsr *LinkStateRequest) String() string {
	var b bytes.Buffer

	fmt.Fprint(&b, lsr.header.String())
	for _, k := range lsr.requests {
		fmt.Fprintf(&b, "\n  %s", k)
	}

	return b.String()
}

func (lsr *LinkStateRequest) encode() []byte {
	lsr.length = ospfHeaderLen + uint16(len(lsr.requests)*lsrEntryLen)

	data := make([]byte, lsr.length)
	lsr.header.encodeTo(data)

	for i, k := range lsr.requests {
		off := ospfHeaderLen + i*lsrEntryLen
		binary.BigEndian.PutUint32(data[off:off+4], uint32(k.Type))
		copy(data[off+4:off+8], to4(k.ID))
		binary.BigEndian.PutUint32(data[off+8:off+12], uint32(k.AdvertisingRouter))
	}

	return lsr.finish(data)
}

type LinkStateUpdate struct {
	header

	lsas []*LSA
}

func (lsu *LinkStateUpdate) String() string {
	var b bytes.Buffer

	fmt.Fprint(&b, lsu.header.String())
	for _, lsa := range lsu.lsas {
		fmt.Fprintf(&b, "\n  %s", &lsa.LSAHeader)
	}

	return b.String()
}

func (lsu *LinkStateUpdate) encode() []byte {
	size := ospfHeaderLen + lsuFixedLen
	for _, lsa := range lsu.lsas {
		size += int(lsa.Length)
	}
	lsu.length = uint16(size)

	data := make([]byte, lsu.length)
	lsu.header.encodeTo(data)

	binary.BigEndian.PutUint32(data[24:28], uint32(len(lsu.lsas)))
	off := ospfHeaderLen + lsuFixedLen
	for _, lsa := range lsu.lsas {
		off += copy(data[off:], lsa.Bytes())
	}

	return lsu.finish(data)
}

type LinkStateAcknowledgement struct {
	header

	lsaHeaders []LSAHeader
}

func (ack *LinkStateAcknowledgement) String() string {
	var b bytes.Buffer

	fmt.Fprint(&b, ack.header.String())
	for i := range ack.lsaHeaders {
		fmt.Fprintf(&b, "\n  %s", &ack.lsaHeaders[i])
	}

	return b.String()
}

func (ack *LinkStateAcknowledgement) encode() []byte {
	ack.length = ospfHeaderLen + uint16(len(ack.lsaHeaders)*lsaHeaderLen)

	data := make([]byte, ack.length)
	ack.header.encodeTo(data)

	for i := range ack.lsaHeaders {
		off := ospfHeaderLen + i*lsaHeaderLen
		ack.lsaHeaders[i].encodeTo(data[off : off+lsaHeaderLen])
	}

	return ack.finish(data)
}
