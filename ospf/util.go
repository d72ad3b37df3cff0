package ospf

import (
	"fmt"
	"net/netip"

	"golang.org/x/exp/constraints"
)

func abs[T constraints.Signed](a T) T {
	if a < 0 {
		return -a
	} else {
		return a
	}
}

func to4(addr netip.Addr) []byte {
	b := addr.As4()
	return b[:]
}

func mustAddrFromSlice(b []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		panic("mustAddrFromSlice: slice should be either 4 or 16 bytes, but got " + fmt.Sprint(len(b)))
	}
	return addr
}
