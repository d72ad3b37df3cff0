package ospf

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/davidbalbert/ospfsync/chatterd/common"
)

// Decode parses an OSPFv2 packet received from src. Hello, Database
// Description, Link State Request and Link State Acknowledgement packets
// are decoded by gopacket after their lengths have been checked. LSA
// bodies are opaque to the engine, so Link State Update packets and the
// LSA headers carried in Database Description packets are decoded here.
func Decode(src netip.Addr, data []byte) (Packet, error) {
	if len(data) < ospfHeaderLen {
		return nil, fmt.Errorf("packet too short")
	}

	if data[0] != 2 {
		return nil, fmt.Errorf("unsupported OSPF version %d", data[0])
	}

	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) > len(data) || length < ospfHeaderLen {
		return nil, fmt.Errorf("packet length mismatch")
	}
	data = data[:length]

	if auType := binary.BigEndian.Uint16(data[14:16]); auType != 0 {
		return nil, fmt.Errorf("unsupported authentication type %d", auType)
	}

	if checksum(data[0:16], data[24:]) != 0 {
		return nil, fmt.Errorf("packet checksum mismatch")
	}

	h := header{
		messageType: messageType(data[1]),
		length:      length,
		routerID:    common.RouterID(binary.BigEndian.Uint32(data[4:8])),
		areaID:      common.AreaID(binary.BigEndian.Uint32(data[8:12])),
		checksum:    binary.BigEndian.Uint16(data[12:14]),
		src:         src,
	}

	switch h.messageType {
	case TypeHello:
		if h.length < ospfHeaderLen+helloFixedLen {
			return nil, fmt.Errorf("hello packet too short")
		}
	case TypeDatabaseDescription:
		if h.length < ospfHeaderLen+ddFixedLen {
			return nil, fmt.Errorf("database description packet too short")
		}
	case TypeLinkStateRequest:
		if (h.length-ospfHeaderLen)%lsrEntryLen != 0 {
			return nil, fmt.Errorf("link state request packet has a partial entry")
		}
	case TypeLinkStateUpdate:
		return decodeLinkStateUpdate(h, data)
	case TypeLinkStateAcknowledgement:
		if (h.length-ospfHeaderLen)%lsaHeaderLen != 0 {
			return nil, fmt.Errorf("link state acknowledgement packet has a partial header")
		}
	default:
		return nil, fmt.Errorf("unknown OSPF packet type %d", h.messageType)
	}

	var ospf layers.OSPFv2
	if err := ospf.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, err
	}

	switch content := ospf.Content.(type) {
	case layers.HelloPkgV2:
		hello := &Hello{
			header:             h,
			networkMask:        net.IPMask(to4(common.Uint32ToAddr(content.NetworkMask))),
			helloInterval:      content.HelloInterval,
			options:            uint8(content.Options),
			routerPriority:     content.RtrPriority,
			routerDeadInterval: content.RouterDeadInterval,
			dRouter:            common.Uint32ToAddr(content.DesignatedRouterID),
			bdRouter:           common.Uint32ToAddr(content.BackupDesignatedRouterID),
		}
		for _, id := range content.NeighborID {
			hello.neighbors = append(hello.neighbors, common.RouterID(id))
		}

		return hello, nil
	case layers.DbDescPkg:
		flags := uint8(content.Flags)
		dd := &DatabaseDescription{
			header:         h,
			interfaceMTU:   content.InterfaceMTU,
			options:        uint8(content.Options),
			init:           flags&ddFlagI != 0,
			more:           flags&ddFlagM != 0,
			master:         flags&ddFlagMS != 0,
			sequenceNumber: content.DDSeqNumber,
		}

		// gopacket reads the LS type as two bytes, which folds the
		// options into it.
		headers, err := decodeLSAHeaders(data[ospfHeaderLen+ddFixedLen:])
		if err != nil {
			return nil, err
		}
		dd.lsaHeaders = headers

		return dd, nil
	case []layers.LSReq:
		lsr := &LinkStateRequest{header: h}
		for _, r := range content {
			lsr.requests = append(lsr.requests, LSAKey{
				Type:              LSType(r.LSType),
				ID:                common.Uint32ToAddr(r.LSID),
				AdvertisingRouter: common.RouterID(r.AdvRouter),
			})
		}

		return lsr, nil
	case []layers.LSAheader:
		ack := &LinkStateAcknowledgement{header: h}
		for _, lh := range content {
			ack.lsaHeaders = append(ack.lsaHeaders, LSAHeader{
				Age:               lh.LSAge,
				Options:           lh.LSOptions,
				Type:              LSType(lh.LSType),
				ID:                common.Uint32ToAddr(lh.LinkStateID),
				AdvertisingRouter: common.RouterID(lh.AdvRouter),
				SequenceNumber:    int32(lh.LSSeqNumber),
				Checksum:          lh.LSChecksum,
				Length:            lh.Length,
			})
		}

		return ack, nil
	default:
		return nil, fmt.Errorf("malformed %s packet", h.messageType)
	}
}

func decodeLinkStateUpdate(h header, data []byte) (*LinkStateUpdate, error) {
	if h.length < ospfHeaderLen+lsuFixedLen {
		return nil, fmt.Errorf("link state update packet too short")
	}

	n := binary.BigEndian.Uint32(data[24:28])
	lsu := &LinkStateUpdate{header: h}

	rest := data[ospfHeaderLen+lsuFixedLen:]
	for i := uint32(0); i < n; i++ {
		lsa, err := decodeLSA(rest)
		if err != nil {
			return nil, fmt.Errorf("lsa %d: %w", i, err)
		}
		lsu.lsas = append(lsu.lsas, lsa)
		rest = rest[lsa.Length:]
	}

	return lsu, nil
}

func decodeLSAHeaders(data []byte) ([]LSAHeader, error) {
	if len(data)%lsaHeaderLen != 0 {
		return nil, fmt.Errorf("partial lsa header")
	}

	var headers []LSAHeader
	for off := 0; off < len(data); off += lsaHeaderLen {
		h, err := decodeLSAHeader(data[off : off+lsaHeaderLen])
		if err != nil {
			return nil, err
		}
		headers = append(headers, h)
	}

	return headers, nil
}
