package ospf

import (
	"encoding/binary"
	"fmt"
	"math"
	"net/netip"

	"github.com/davidbalbert/ospfsync/chatterd/common"
)

const (
	InitialSequenceNumber int32 = math.MinInt32 + 1
	MaxSequenceNumber     int32 = math.MaxInt32

	MaxAge        = 3600 // 1 hour
	MaxAgeDiff    = 900  // 15 minutes
	LSRefreshTime = 1800 // 30 minutes

	// MinLSArrival is measured in aging ticks, which are one second apart.
	MinLSArrival = 1
)

type LSType uint8

const (
	LSTypeRouter      LSType = 1
	LSTypeNetwork     LSType = 2
	LSTypeSummary     LSType = 3
	LSTypeASBRSummary LSType = 4
	LSTypeASExternal  LSType = 5
)

func (t LSType) String() string {
	switch t {
	case LSTypeRouter:
		return "router"
	case LSTypeNetwork:
		return "network"
	case LSTypeSummary:
		return "summary"
	case LSTypeASBRSummary:
		return "asbr-summary"
	case LSTypeASExternal:
		return "as-external"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t LSType) valid() bool {
	return t >= LSTypeRouter && t <= LSTypeASExternal
}

type LSAKey struct {
	Type              LSType
	ID                netip.Addr
	AdvertisingRouter common.RouterID
}

func (k LSAKey) String() string {
	return fmt.Sprintf("%v id=%v adv=%v", k.Type, k.ID, k.AdvertisingRouter)
}

type LSAHeader struct {
	Age               uint16
	Options           uint8
	Type              LSType
	ID                netip.Addr
	AdvertisingRouter common.RouterID
	SequenceNumber    int32
	Checksum          uint16
	Length            uint16
}

const lsaHeaderLen = 20

func (h *LSAHeader) Key() LSAKey {
	return LSAKey{
		Type:              h.Type,
		ID:                h.ID,
		AdvertisingRouter: h.AdvertisingRouter,
	}
}

func (h *LSAHeader) String() string {
	return fmt.Sprintf("%v seq=0x%08x age=%d cksum=0x%04x", h.Key(), uint32(h.SequenceNumber), h.Age, h.Checksum)
}

// Compare returns 1 if h is a more recent instance than other, -1 if it is
// less recent and 0 if the two are considered the same instance.
func (h *LSAHeader) Compare(other *LSAHeader) int {
	s1, s2 := h.SequenceNumber, other.SequenceNumber
	if s1 < s2 {
		return -1
	} else if s1 > s2 {
		return 1
	}

	c1, c2 := h.Checksum, other.Checksum
	if c1 < c2 {
		return -1
	} else if c1 > c2 {
		return 1
	}

	a1, a2 := int(h.Age), int(other.Age)
	if a1 != MaxAge && a2 == MaxAge {
		return -1
	} else if a1 == MaxAge && a2 != MaxAge {
		return 1
	}

	diff := abs(a1 - a2)
	if diff > MaxAgeDiff && a1 < a2 {
		return 1
	} else if diff > MaxAgeDiff && a1 > a2 {
		return -1
	}

	return 0
}

func (h *LSAHeader) encodeTo(data []byte) {
	if len(data) < lsaHeaderLen {
		panic("LSAHeader.encodeTo: data is too short")
	}

	binary.BigEndian.PutUint16(data[0:2], h.Age)
	data[2] = h.Options
	data[3] = byte(h.Type)
	copy(data[4:8], to4(h.ID))
	binary.BigEndian.PutUint32(data[8:12], uint32(h.AdvertisingRouter))
	binary.BigEndian.PutUint32(data[12:16], uint32(h.SequenceNumber))
	binary.BigEndian.PutUint16(data[16:18], h.Checksum)
	binary.BigEndian.PutUint16(data[18:20], h.Length)
}

func decodeLSAHeader(data []byte) (LSAHeader, error) {
	if len(data) < lsaHeaderLen {
		return LSAHeader{}, fmt.Errorf("lsa header too short")
	}

	return LSAHeader{
		Age:               binary.BigEndian.Uint16(data[0:2]),
		Options:           data[2],
		Type:              LSType(data[3]),
		ID:                mustAddrFromSlice(data[4:8]),
		AdvertisingRouter: common.RouterID(binary.BigEndian.Uint32(data[8:12])),
		SequenceNumber:    int32(binary.BigEndian.Uint32(data[12:16])),
		Checksum:          binary.BigEndian.Uint16(data[16:18]),
		Length:            binary.BigEndian.Uint16(data[18:20]),
	}, nil
}

// Rules of LSAs:
//
// - With the exception of age, all fields are immutable once the LSA has
//   been built with NewLSA.
// - Anything that needs a different age works on a Copy.
type LSA struct {
	LSAHeader
	Body []byte
}

// NewLSA fills in Length and Checksum.
func NewLSA(h LSAHeader, body []byte) *LSA {
	l := &LSA{
		LSAHeader: h,
		Body:      append([]byte(nil), body...),
	}
	l.Length = uint16(lsaHeaderLen + len(body))
	l.Checksum = 0

	data := l.Bytes()
	// The checksum covers everything but the age field.
	l.Checksum = fletcher16GenerateChecksum(data[2:], 14)

	return l
}

func (l *LSA) Bytes() []byte {
	data := make([]byte, lsaHeaderLen+len(l.Body))
	l.LSAHeader.encodeTo(data)
	copy(data[lsaHeaderLen:], l.Body)
	return data
}

func (l *LSA) Copy() *LSA {
	return &LSA{
		LSAHeader: l.LSAHeader,
		Body:      append([]byte(nil), l.Body...),
	}
}

func (l *LSA) IsChecksumValid() bool {
	return fletcher16Checksum(l.Bytes()[2:]) == 0
}

// aged returns a copy of l as it should appear on the wire after
// crossing a link with the given transmission delay.
func (l *LSA) aged(delay uint16) *LSA {
	c := l.Copy()
	if int(c.Age)+int(delay) < MaxAge {
		c.Age += delay
	} else {
		c.Age = MaxAge
	}
	return c
}

func decodeLSA(data []byte) (*LSA, error) {
	h, err := decodeLSAHeader(data)
	if err != nil {
		return nil, err
	}

	if h.Length < lsaHeaderLen || int(h.Length) > len(data) {
		return nil, fmt.Errorf("lsa length %d out of range", h.Length)
	}

	return &LSA{
		LSAHeader: h,
		Body:      append([]byte(nil), data[lsaHeaderLen:h.Length]...),
	}, nil
}

func fletcher16(data ...[]byte) (r0, r1 int) {
	var c0, c1 int

	for _, d := range data {
		for _, b := range d {
			c0 = (c0 + int(b)) % 255
			c1 = (c1 + c0) % 255
		}
	}

	return c0, c1
}

func fletcher16Checksum(data []byte) uint16 {
	c0, c1 := fletcher16(data)
	return uint16(c1<<8 | c0)
}

// offset is the offset of the checksum field in the data
func fletcher16GenerateChecksum(data []byte, offset int) uint16 {
	c0, c1 := fletcher16(data[:offset], []byte{0, 0}, data[offset+2:])

	x := ((len(data)-offset-1)*c0 - c1) % 255
	if x <= 0 {
		x += 255
	}

	y := 510 - c0 - x
	if y > 255 {
		y -= 255
	}

	return uint16(x<<8 | y)
}
