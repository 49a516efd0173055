package rtc

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBehindTunnel(t *testing.T) {
	tests := []struct {
		name   string
		ifaces []netInterface
		want   bool
	}{
		{
			name:   "plain ethernet",
			ifaces: []netInterface{{name: "eth0", up: true, addrs: []net.IP{net.ParseIP("192.168.1.20")}}},
		},
		{
			name:   "wireguard",
			ifaces: []netInterface{{name: "wg0", up: true}},
			want:   true,
		},
		{
			name:   "cgnat address",
			ifaces: []netInterface{{name: "eth0", up: true, addrs: []net.IP{net.ParseIP("100.100.1.2")}}},
			want:   true,
		},
		{
			name:   "down tunnel ignored",
			ifaces: []netInterface{{name: "tun0"}},
		},
		{
			name:   "loopback ignored",
			ifaces: []netInterface{{name: "lo", up: true, loop: true, addrs: []net.IP{net.ParseIP("100.64.0.1")}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, behindTunnel(tt.ifaces))
		})
	}
}
