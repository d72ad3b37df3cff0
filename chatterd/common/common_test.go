package common

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want uint32
	}{
		{"0", 0},
		{"1", 1},
		{"0.0.0.1", 1},
		{"1.1.1.1", 0x01010101},
		{"4294967295", 0xffffffff},
	}

	for _, tt := range tests {
		got, err := ParseID(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseIDErrors(t *testing.T) {
	for _, s := range []string{"", "-1", "4294967296", "::1", "1.2.3", "area"} {
		_, err := ParseID(s)
		assert.Error(t, err, s)
	}
}

func TestRouterIDString(t *testing.T) {
	assert.Equal(t, "2.2.2.2", RouterID(0x02020202).String())
	assert.Equal(t, "0.0.0.0", Backbone.String())
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), RouterID(0x0a000001).Addr())
}

func TestAddrRoundTrip(t *testing.T) {
	addr := netip.MustParseAddr("192.168.200.1")
	assert.Equal(t, addr, Uint32ToAddr(AddrToUint32(addr)))
	assert.Panics(t, func() { AddrToUint32(netip.MustParseAddr("::1")) })
}
