package httpclient

import (
	"net"
	"net/netip"
	"strings"
)

// blockedPrefixes are ranges an outbound request must never reach unless private
// networks are allowed: RFC 1918, loopback, link-local, "this network", multicast,
// reserved, IPv6 unique/site local and documentation space.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fec0::/10"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("ff00::/8"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// isPrivateIP reports whether ip falls in blockedPrefixes. IPv4-mapped IPv6
// addresses are judged as IPv4.
func isPrivateIP(ip net.IP) bool {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return false
	}
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isLocalhost(hostname string) bool {
	h := strings.ToLower(strings.TrimSuffix(hostname, "."))
	return h == "localhost" || h == "localhost.localdomain" || strings.HasSuffix(h, ".localhost")
}
