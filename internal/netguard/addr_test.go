package netguard

import (
	"net/netip"
	"testing"
)

func TestIsGlobal_IPv4(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		// public unicast
		{"1.1.1.1", true},
		{"8.8.8.8", true},
		{"93.184.216.34", true},
		{"9.255.255.255", true},
		{"11.0.0.0", true},
		{"100.63.255.255", true},
		{"100.128.0.0", true},
		{"172.15.255.255", true},
		{"172.32.0.0", true},
		{"192.0.0.9", true},
		{"192.0.0.10", true},
		{"192.0.3.1", true},
		{"198.17.255.255", true},
		{"198.20.0.0", true},
		{"223.255.255.255", true},

		// unspecified / this network
		{"0.0.0.0", false},
		{"0.1.2.3", false},
		// private-use
		{"10.0.0.1", false},
		{"10.255.255.255", false},
		{"172.16.0.1", false},
		{"172.31.255.255", false},
		{"192.168.0.1", false},
		{"192.168.255.255", false},
		// shared address space
		{"100.64.0.1", false},
		{"100.127.255.255", false},
		// loopback
		{"127.0.0.1", false},
		{"127.255.255.254", false},
		// link-local, includes cloud metadata
		{"169.254.0.1", false},
		{"169.254.169.254", false},
		// protocol assignments
		{"192.0.0.1", false},
		{"192.0.0.170", false},
		// documentation
		{"192.0.2.1", false},
		{"198.51.100.7", false},
		{"203.0.113.200", false},
		// 6to4 relay anycast
		{"192.88.99.1", false},
		// benchmarking
		{"198.18.0.1", false},
		{"198.19.255.255", false},
		// multicast
		{"224.0.0.1", false},
		{"239.255.255.250", false},
		// reserved and broadcast
		{"240.0.0.1", false},
		{"255.255.255.255", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := IsGlobal(netip.MustParseAddr(tt.addr))
			if got != tt.want {
				t.Errorf("IsGlobal(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIsGlobal_IPv6(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		// public unicast
		{"2606:4700:4700::1111", true},
		{"2001:4860:4860::8888", true},
		{"2a00:1450:4001:82a::200e", true},
		{"2001:200::1", true},
		{"2001:1::1", true},
		{"2001:1::2", true},
		{"2001:3::1", true},
		{"2001:4:112::1", true},
		{"2001:20::1", true},
		{"2001:30::1", true},

		// unspecified / loopback
		{"::", false},
		{"::1", false},
		// unique-local
		{"fc00::1", false},
		{"fd12:3456:789a::1", false},
		// link-local
		{"fe80::1", false},
		{"fe80::1%eth0", false},
		{"febf:ffff::1", false},
		// site-local
		{"fec0::1", false},
		// multicast
		{"ff02::1", false},
		{"ff0e::1", false},
		// documentation
		{"2001:db8::1", false},
		{"3fff::1", false},
		// 6to4 can embed any IPv4 address
		{"2002:7f00:1::1", false},
		// discard-only
		{"100::1", false},
		// protocol assignments, Teredo
		{"2001::1", false},
		{"2001:0:4136:e378:8000:63bf:3fff:fdd2", false},
		{"2001:2::1", false},
		// translation
		{"64:ff9b:1::1", false},
		// segment routing
		{"5f00::1", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := IsGlobal(netip.MustParseAddr(tt.addr))
			if got != tt.want {
				t.Errorf("IsGlobal(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIsGlobal_IPv4Mapped(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"::ffff:127.0.0.1", false},
		{"::ffff:10.1.2.3", false},
		{"::ffff:169.254.169.254", false},
		{"::ffff:8.8.8.8", true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			got := IsGlobal(netip.MustParseAddr(tt.addr))
			if got != tt.want {
				t.Errorf("IsGlobal(%s) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIsGlobal_ZeroAddr(t *testing.T) {
	if IsGlobal(netip.Addr{}) {
		t.Error("IsGlobal(zero Addr) = true, want false")
	}
}
