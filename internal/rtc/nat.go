package rtc

import (
	"net"
	"strings"
)

// tunnelMarkers match interface names of VPN and tunnel adapters.
var tunnelMarkers = []string{"tun", "tap", "wg", "ppp", "warp"}

// cgnat is 100.64.0.0/10, used by carrier NAT, Tailscale and Cloudflare WARP.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

type netInterface struct {
	name  string
	up    bool
	loop  bool
	addrs []net.IP
}

// relayRecommended reports whether direct candidates are unlikely to work
// from this host, in which case media is forced through TURN.
func relayRecommended() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	list := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		ni := netInterface{
			name: iface.Name,
			up:   iface.Flags&net.FlagUp != 0,
			loop: iface.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := iface.Addrs(); err == nil {
			for _, a := range addrs {
				switch v := a.(type) {
				case *net.IPNet:
					ni.addrs = append(ni.addrs, v.IP)
				case *net.IPAddr:
					ni.addrs = append(ni.addrs, v.IP)
				}
			}
		}
		list = append(list, ni)
	}
	return behindTunnel(list)
}

func behindTunnel(ifaces []netInterface) bool {
	for _, iface := range ifaces {
		if !iface.up || iface.loop {
			continue
		}
		name := strings.ToLower(iface.name)
		for _, m := range tunnelMarkers {
			if strings.Contains(name, m) {
				return true
			}
		}
		for _, ip := range iface.addrs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}
