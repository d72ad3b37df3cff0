package common

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
)

type RouterID uint32
type AreaID uint32

const Backbone AreaID = 0

func (r RouterID) String() string {
	return r.Addr().String()
}

func (r RouterID) Addr() netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(r))
	return netip.AddrFrom4(b)
}

func (a AreaID) String() string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(a))
	addr := netip.AddrFrom4(b)

	return addr.String()
}

// AddrToUint32 panics if addr is not an IPv4 address.
func AddrToUint32(addr netip.Addr) uint32 {
	if !addr.Is4() {
		panic("AddrToUint32: not an IPv4 address: " + addr.String())
	}

	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

func Uint32ToAddr(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// ParseID accepts either a dotted quad or an unsigned 32 bit integer.
func ParseID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err == nil {
		return uint32(n), nil
	}

	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("must be an IPv4 address or an unsigned 32 bit integer")
	}

	return AddrToUint32(addr), nil
}
