package resolver

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"
)

// ednsBufferSize is the advertised UDP payload size; 1232 avoids IP fragmentation.
const ednsBufferSize = 1232

// dnsBackend queries the nameservers from a resolv.conf file directly.
type dnsBackend struct {
	servers  []string // host:port
	udp      *dns.Client
	tcp      *dns.Client
	attempts int
}

// newDNSBackend reads nameservers, timeout and attempts from a resolv.conf file.
func newDNSBackend(path string) (*dnsBackend, error) {
	conf, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(conf.Servers) == 0 {
		return nil, fmt.Errorf("%s: no nameservers configured", path)
	}

	servers := make([]string, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		servers = append(servers, net.JoinHostPort(s, conf.Port))
	}
	timeout := time.Duration(max(conf.Timeout, 1)) * time.Second
	return newDNSBackendWithServers(servers, timeout, max(conf.Attempts, 1)), nil
}

func newDNSBackendWithServers(servers []string, timeout time.Duration, attempts int) *dnsBackend {
	return &dnsBackend{
		servers:  servers,
		udp:      &dns.Client{Net: "udp", Timeout: timeout},
		tcp:      &dns.Client{Net: "tcp", Timeout: timeout},
		attempts: attempts,
	}
}

// LookupAddrs queries A and AAAA records in parallel and merges the answers,
// IPv4 first. A failure of one family does not discard the other: an error is
// returned only when no addresses were found at all. A name with neither record
// type is reported as not found.
func (b *dnsBackend) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	name := dns.Fqdn(host)

	var (
		v4, v6     []netip.Addr
		err4, err6 error
		g          errgroup.Group
	)
	g.Go(func() error {
		v4, err4 = b.query(ctx, name, dns.TypeA)
		return nil
	})
	g.Go(func() error {
		v6, err6 = b.query(ctx, name, dns.TypeAAAA)
		return nil
	})
	_ = g.Wait()

	addrs := append(v4, v6...)
	if len(addrs) > 0 {
		return addrs, nil
	}
	if err := cmp.Or(err4, err6); err != nil {
		return nil, err
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

// query asks each nameserver in turn until one gives a definitive answer.
// NXDOMAIN and empty answers yield no addresses and no error.
func (b *dnsBackend) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.SetEdns0(ednsBufferSize, false)

	var lastErr error
servers:
	for _, server := range b.servers {
		for range b.attempts {
			resp, err := b.exchange(ctx, msg, server)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				lastErr = &net.DNSError{Err: err.Error(), Name: name, Server: server, IsTimeout: isTimeout(err)}
				continue
			}

			switch resp.Rcode {
			case dns.RcodeSuccess:
				return answerAddrs(resp, qtype), nil
			case dns.RcodeNameError:
				return nil, nil
			default:
				// SERVFAIL, REFUSED and friends: try the next server.
				lastErr = &net.DNSError{Err: "server answered " + dns.RcodeToString[resp.Rcode], Name: name, Server: server, IsTemporary: true}
				continue servers
			}
		}
	}
	return nil, lastErr
}

// exchange sends msg over UDP and repeats it over TCP when the answer is truncated.
func (b *dnsBackend) exchange(ctx context.Context, msg *dns.Msg, server string) (*dns.Msg, error) {
	resp, _, err := b.udp.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, err
	}
	if resp.Truncated {
		resp, _, err = b.tcp.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, err
		}
	}
	return resp, nil
}

// answerAddrs extracts the addresses of the requested type, skipping CNAMEs
// and anything else in the answer section.
func answerAddrs(resp *dns.Msg, qtype uint16) []netip.Addr {
	var out []netip.Addr
	for _, rr := range resp.Answer {
		var ip net.IP
		switch rec := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				ip = rec.A
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				ip = rec.AAAA
			}
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, addr.Unmap())
		}
	}
	return out
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
