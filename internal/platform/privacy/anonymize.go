// Package privacy masks network identifiers before they reach logs.
package privacy

import (
	"net"
	"net/netip"
)

const (
	ipv4PrefixBits = 24
	ipv6PrefixBits = 48
)

// AnonymizeIP masks an address to its /24 (IPv4) or /48 (IPv6) network so a
// log line cannot single out a host. Returns "unknown" for empty input and
// "invalid" when the address cannot be parsed.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	addr = addr.Unmap().WithZone("")

	bits := ipv6PrefixBits
	if addr.Is4() {
		bits = ipv4PrefixBits
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}

// AnonymizeRemoteAddr accepts an http.Request.RemoteAddr style "host:port"
// value, or a bare address, and masks the host part.
func AnonymizeRemoteAddr(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return AnonymizeIP(host)
	}
	return AnonymizeIP(remoteAddr)
}
