package netguard

import (
	"errors"
	"net/netip"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

var (
	// ErrSchemeNotAllowed is returned for any scheme other than http or https.
	ErrSchemeNotAllowed = errors.New("scheme not allowed")
	// ErrEmptyHost is returned when the URL carries no host.
	ErrEmptyHost = errors.New("empty host")
	// ErrCredentials is returned for URLs with embedded userinfo.
	ErrCredentials = errors.New("embedded credentials not allowed")
	// ErrBlockedAddress is returned when the target address is not globally routable.
	ErrBlockedAddress = errors.New("address is not globally routable")
	// ErrBlockedHost is returned for host names that always point at the local machine.
	ErrBlockedHost = errors.New("host not allowed")
)

// CheckURL decides whether u is eligible for fetching. Literal IP hosts are
// classified immediately; domain names are only screened for localhost and
// must still pass the resolver filter at connection time.
func CheckURL(u *url.URL) error {
	return CheckURLWith(u, IsGlobal)
}

// CheckURLWith is CheckURL with a custom policy for literal IP hosts.
func CheckURLWith(u *url.URL, allow AddrPolicy) error {
	switch u.Scheme {
	case "http", "https":
	default:
		return ErrSchemeNotAllowed
	}
	if u.User != nil {
		return ErrCredentials
	}

	host := u.Hostname()
	if host == "" {
		return ErrEmptyHost
	}

	if addr, ok := ParseLiteral(host); ok {
		if !allow(addr) {
			return ErrBlockedAddress
		}
		return nil
	}

	name, err := NormalizeHost(host)
	if err != nil {
		return ErrBlockedHost
	}
	if name == "localhost" || strings.HasSuffix(name, ".localhost") {
		return ErrBlockedHost
	}
	return nil
}

// ParseLiteral parses host as an IP literal, accepting IPv6 zones.
func ParseLiteral(host string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr, true
}

// NormalizeHost converts a domain name to its lowercase ASCII form without a trailing dot.
func NormalizeHost(host string) (string, error) {
	name := strings.TrimSuffix(host, ".")
	if !isASCII(name) {
		var err error
		if name, err = idna.Lookup.ToASCII(name); err != nil {
			return "", err
		}
	}
	return strings.ToLower(name), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
