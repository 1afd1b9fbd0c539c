package discovery

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
)

func TestEntryAddr(t *testing.T) {
	e := zeroconf.NewServiceEntry("groupmap-host", Service, Domain)
	e.Port = 8080

	_, ok := entryAddr(e)
	assert.False(t, ok)

	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	addr, ok := entryAddr(e)
	assert.True(t, ok)
	assert.Equal(t, "[fe80::1]:8080", addr)

	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	addr, ok = entryAddr(e)
	assert.True(t, ok)
	assert.Equal(t, "192.168.1.20:8080", addr)

	_, ok = entryAddr(nil)
	assert.False(t, ok)
}
