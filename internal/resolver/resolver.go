// Package resolver provides the restricted name resolver used for outbound downloads.
//
// Every answer passes through an address policy before it is returned, so a
// caller can never obtain an address the policy rejects. The underlying DNS
// backend is built lazily on first use, exactly once; a construction failure
// is remembered and reported to every later caller.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"eclipse-api-go/internal/config"
	"eclipse-api-go/internal/metrics"
	"eclipse-api-go/internal/netguard"
)

var (
	// ErrResolverUnavailable is returned when the DNS backend could not be built.
	ErrResolverUnavailable = errors.New("resolver unavailable")
	// ErrNoRoutableAddress is returned when a name resolves, but only to blocked addresses.
	ErrNoRoutableAddress = errors.New("no routable address")
)

// Backend performs unfiltered address lookups.
type Backend interface {
	LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error)
}

// BackendFactory builds a Backend. It is called at most once per Resolver.
type BackendFactory func() (Backend, error)

// Resolver resolves host names to addresses permitted by its policy.
type Resolver struct {
	backend func() (Backend, error)
	allow   netguard.AddrPolicy
	group   singleflight.Group
	cache   *expirable.LRU[string, []netip.Addr] // nil when caching is off
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Resolver backed by the system DNS configuration at
// cfg.Download.ResolvConf, admitting only globally routable addresses.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	path := cfg.Download.ResolvConf
	return NewWithBackend(cfg, func() (Backend, error) {
		return newDNSBackend(path)
	}, netguard.IsGlobal, logger, m)
}

// NewWithBackend creates a Resolver with an explicit backend factory and address policy.
// Pass nil for m to disable metrics.
func NewWithBackend(cfg *config.Config, factory BackendFactory, allow netguard.AddrPolicy, logger *slog.Logger, m *metrics.Metrics) *Resolver {
	r := &Resolver{
		allow:   allow,
		logger:  logger.With("component", "resolver"),
		metrics: m,
	}
	if ttl := cfg.Download.DNSCacheTTL(); ttl > 0 && cfg.Download.DNSCacheSize > 0 {
		r.cache = expirable.NewLRU[string, []netip.Addr](cfg.Download.DNSCacheSize, nil, ttl)
	}
	r.backend = sync.OnceValues(func() (Backend, error) {
		b, err := factory()
		if err != nil {
			r.logger.Error("dns backend construction failed; downloads are disabled", "err", err)
			return nil, fmt.Errorf("%w: %w", ErrResolverUnavailable, err)
		}
		r.logger.Debug("dns backend ready")
		return b, nil
	})
	return r
}

// LookupAddrs returns the permitted addresses for host. Literal IP hosts are
// checked against the policy without consulting DNS.
func (r *Resolver) LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error) {
	if addr, ok := netguard.ParseLiteral(host); ok {
		if !r.allow(addr) {
			r.countLookup(metrics.LookupBlocked)
			return nil, fmt.Errorf("%w: %s", ErrNoRoutableAddress, host)
		}
		return []netip.Addr{addr}, nil
	}

	name, err := netguard.NormalizeHost(host)
	if err != nil || name == "" {
		return nil, &net.DNSError{Err: "invalid host name", Name: host, IsNotFound: true}
	}

	if r.cache != nil {
		if addrs, ok := r.cache.Get(name); ok {
			r.countLookup(metrics.LookupCached)
			return slices.Clone(addrs), nil
		}
	}

	// The shared lookup must outlive any single caller; each caller still
	// stops waiting when its own context ends.
	ch := r.group.DoChan(name, func() (any, error) {
		return r.resolve(context.WithoutCancel(ctx), name)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]netip.Addr)), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, name string) ([]netip.Addr, error) {
	backend, err := r.backend()
	if err != nil {
		r.countLookup(metrics.LookupError)
		return nil, err
	}

	addrs, err := backend.LookupAddrs(ctx, name)
	if err != nil {
		r.countLookup(metrics.LookupError)
		r.logger.Debug("lookup failed", "host", name, "err", err)
		return nil, fmt.Errorf("lookup %s: %w", name, err)
	}

	allowed := r.filter(addrs)
	if len(allowed) == 0 {
		r.countLookup(metrics.LookupBlocked)
		r.logger.Warn("all resolved addresses blocked", "host", name, "answers", len(addrs))
		return nil, fmt.Errorf("%w: %s", ErrNoRoutableAddress, name)
	}

	if r.cache != nil {
		r.cache.Add(name, allowed)
	}
	r.countLookup(metrics.LookupOK)
	return allowed, nil
}

// filter keeps the permitted addresses in answer order, without duplicates.
func (r *Resolver) filter(addrs []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(addrs))
	var dropped int
	for _, a := range addrs {
		a = a.Unmap()
		if !r.allow(a) {
			dropped++
			continue
		}
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	if dropped > 0 && r.metrics != nil {
		r.metrics.FilteredAddresses.Add(float64(dropped))
	}
	return out
}

func (r *Resolver) countLookup(result string) {
	if r.metrics != nil {
		r.metrics.DNSLookups.WithLabelValues(result).Inc()
	}
}
