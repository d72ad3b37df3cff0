package ospf

import (
	"encoding/binary"
	"net"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbalbert/ospfsync/chatterd/common"
)

var packetOpts = cmp.Options{
	cmp.AllowUnexported(header{}, Hello{}, DatabaseDescription{}, LinkStateRequest{}, LinkStateUpdate{}, LinkStateAcknowledgement{}),
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmpopts.EquateEmpty(),
}

func testHeader(t messageType) header {
	return header{
		messageType: t,
		routerID:    rid("1.1.1.1"),
		areaID:      common.AreaID(1),
		src:         netip.MustParseAddr("10.0.0.1"),
	}
}

func TestPacketWireFormat(t *testing.T) {
	r1 := routerLSA("1.1.1.1", InitialSequenceNumber, 0, 0, 0, 0)
	s1 := summaryLSA("2.2.2.2", "10.2.0.0", 42)
	s1.Age = 17
	ext := NewLSA(LSAHeader{
		Age:               MaxAge,
		Type:              LSTypeASExternal,
		ID:                netip.MustParseAddr("0.0.0.0"),
		AdvertisingRouter: rid("3.3.3.3"),
		SequenceNumber:    MaxSequenceNumber,
	}, make([]byte, 16))

	tests := []struct {
		name string
		p    Packet
	}{
		{"hello", &Hello{
			header:             testHeader(TypeHello),
			networkMask:        net.CIDRMask(24, 32),
			helloInterval:      10,
			options:            optE,
			routerPriority:     1,
			routerDeadInterval: 40,
			dRouter:            netip.MustParseAddr("10.0.0.1"),
			bdRouter:           netip.MustParseAddr("0.0.0.0"),
			neighbors:          []common.RouterID{rid("2.2.2.2"), rid("3.3.3.3")},
		}},
		{"dd init", &DatabaseDescription{
			header:         testHeader(TypeDatabaseDescription),
			interfaceMTU:   1500,
			options:        optE,
			init:           true,
			more:           true,
			master:         true,
			sequenceNumber: 0xdeadbeef,
		}},
		{"dd with headers", &DatabaseDescription{
			header:         testHeader(TypeDatabaseDescription),
			interfaceMTU:   9000,
			options:        optE,
			more:           true,
			sequenceNumber: 12,
			lsaHeaders:     headersOf(r1, s1, ext),
		}},
		{"lsr", &LinkStateRequest{
			header:   testHeader(TypeLinkStateRequest),
			requests: []LSAKey{r1.Key(), s1.Key(), ext.Key()},
		}},
		{"lsu", &LinkStateUpdate{
			header: testHeader(TypeLinkStateUpdate),
			lsas:   []*LSA{r1, s1, ext},
		}},
		{"empty lsu", &LinkStateUpdate{
			header: testHeader(TypeLinkStateUpdate),
		}},
		{"ack", &LinkStateAcknowledgement{
			header:     testHeader(TypeLinkStateAcknowledgement),
			lsaHeaders: headersOf(s1, ext),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := Encode(tt.p)
			require.Equal(t, int(tt.p.hdr().length), len(data))

			got, err := Decode(netip.MustParseAddr("10.0.0.1"), data)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.p, got, packetOpts); diff != "" {
				t.Errorf("decoded packet mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeLSATypeIgnoresOptions(t *testing.T) {
	s := summaryLSA("2.2.2.2", "10.2.0.0", 1)
	s.Options = 0xff

	dd := &DatabaseDescription{
		header:     testHeader(TypeDatabaseDescription),
		lsaHeaders: []LSAHeader{s.LSAHeader},
	}

	got, err := Decode(netip.MustParseAddr("10.0.0.1"), Encode(dd))
	require.NoError(t, err)

	decoded := got.(*DatabaseDescription)
	require.Len(t, decoded.lsaHeaders, 1)
	assert.Equal(t, LSTypeSummary, decoded.lsaHeaders[0].Type)
	assert.Equal(t, uint8(0xff), decoded.lsaHeaders[0].Options)
}

func TestDecodeErrors(t *testing.T) {
	src := netip.MustParseAddr("10.0.0.1")
	good := Encode(&LinkStateRequest{
		header:   testHeader(TypeLinkStateRequest),
		requests: []LSAKey{routerLSA("1.1.1.1", 1).Key()},
	})

	corrupt := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), good...)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"short", good[:10]},
		{"truncated", good[:len(good)-4]},
		{"version", corrupt(func(b []byte) []byte { b[0] = 3; return b })},
		{"checksum", corrupt(func(b []byte) []byte { b[30] ^= 0x01; return b })},
		{"authentication", corrupt(func(b []byte) []byte { b[15] = 1; return b })},
		{"type", corrupt(func(b []byte) []byte { b[1] = 9; return b })},
		{"partial entry", corrupt(func(b []byte) []byte {
			b = append(b, 0, 0, 0, 0)
			binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
			return b
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(src, tt.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	ack := &LinkStateAcknowledgement{
		header:     testHeader(TypeLinkStateAcknowledgement),
		lsaHeaders: headersOf(routerLSA("1.1.1.1", 1)),
	}

	data := append(Encode(ack), 0, 0, 0)
	got, err := Decode(netip.MustParseAddr("10.0.0.1"), data)
	require.NoError(t, err)
	assert.Len(t, got.(*LinkStateAcknowledgement).lsaHeaders, 1)
}
