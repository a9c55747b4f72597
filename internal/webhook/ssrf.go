package webhook

import "net/netip"

// privatePrefixes are the reserved ranges outbound webhook traffic must not
// reach. The guard runs against the resolved address immediately before each
// send, so a public-looking hostname that resolves to an internal address
// (DNS rebinding) is still caught.
var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// IsPrivateIP reports whether an IP literal belongs to a reserved private
// range. Unparseable input is treated as private so a bad resolver answer
// never opens a hole.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return true
	}
	if addr.Is4In6() {
		addr = addr.Unmap()
	}

	for _, prefix := range privatePrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}

	return false
}
