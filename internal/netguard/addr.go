// Package netguard decides which network targets the download proxy may reach.
package netguard

import (
	"net/netip"
)

// AddrPolicy reports whether a connection to addr is permitted.
type AddrPolicy func(addr netip.Addr) bool

// nonGlobalV4 lists the IPv4 special-purpose blocks that are not globally reachable.
// https://www.iana.org/assignments/iana-ipv4-special-registry/iana-ipv4-special-registry.xhtml
var nonGlobalV4 = mustPrefixes(
	"0.0.0.0/8",       // "this" network, includes unspecified
	"10.0.0.0/8",      // private-use
	"100.64.0.0/10",   // shared address space (CGNAT)
	"127.0.0.0/8",     // loopback
	"169.254.0.0/16",  // link-local
	"172.16.0.0/12",   // private-use
	"192.0.0.0/24",    // IETF protocol assignments
	"192.0.2.0/24",    // TEST-NET-1
	"192.88.99.0/24",  // deprecated 6to4 relay anycast
	"192.168.0.0/16",  // private-use
	"198.18.0.0/15",   // benchmarking
	"198.51.100.0/24", // TEST-NET-2
	"203.0.113.0/24",  // TEST-NET-3
	"224.0.0.0/4",     // multicast
	"240.0.0.0/4",     // reserved, includes limited broadcast
)

// globalV4 are carve-outs inside nonGlobalV4 that IANA marks globally reachable.
var globalV4 = mustPrefixes(
	"192.0.0.9/32",  // port control protocol anycast
	"192.0.0.10/32", // traversal using relays around NAT anycast
)

// nonGlobalV6 lists the IPv6 special-purpose blocks that are not globally reachable.
// IPv4-mapped addresses are handled separately by unmapping.
// https://www.iana.org/assignments/iana-ipv6-special-registry/iana-ipv6-special-registry.xhtml
var nonGlobalV6 = mustPrefixes(
	"::/128",         // unspecified
	"::1/128",        // loopback
	"64:ff9b:1::/48", // local-use IPv4/IPv6 translation
	"100::/64",       // discard-only
	"2001::/23",      // IETF protocol assignments
	"2001:db8::/32",  // documentation
	"2002::/16",      // 6to4
	"3fff::/20",      // documentation
	"5f00::/16",      // segment routing SIDs
	"fc00::/7",       // unique-local
	"fe80::/10",      // link-local unicast
	"fec0::/10",      // deprecated site-local
	"ff00::/8",       // multicast
)

// globalV6 are carve-outs inside 2001::/23 that IANA marks globally reachable.
var globalV6 = mustPrefixes(
	"2001:1::1/128",   // port control protocol anycast
	"2001:1::2/128",   // TURN anycast
	"2001:3::/32",     // AMT
	"2001:4:112::/48", // AS112-v6
	"2001:20::/28",    // ORCHIDv2
	"2001:30::/28",    // drone remote ID
)

// IsGlobal reports whether addr is a globally routable unicast address.
// IPv4-mapped IPv6 addresses are judged by the IPv4 address they embed.
func IsGlobal(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap().WithZone("")

	if addr.Is4() {
		return !inAny(addr, nonGlobalV4) || inAny(addr, globalV4)
	}
	return !inAny(addr, nonGlobalV6) || inAny(addr, globalV6)
}

func inAny(addr netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}
