// Package client provides the outbound HTTP client used by the download proxy.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"eclipse-api-go/internal/config"
	"eclipse-api-go/internal/metrics"
	"eclipse-api-go/internal/model"
	"eclipse-api-go/internal/netguard"
	"eclipse-api-go/internal/resolver"
)

// userAgent is sent on every upstream request; caller headers are never forwarded.
const userAgent = "eclipse-api/1.0"

// ErrTooManyRedirects is returned when the redirect chain exceeds the configured limit.
var ErrTooManyRedirects = errors.New("too many redirects")

// HostResolver resolves a host name to the addresses the client may dial.
type HostResolver interface {
	LookupAddrs(ctx context.Context, host string) ([]netip.Addr, error)
}

// DownloadClient fetches arbitrary public URLs. Every connection, including
// those made while following redirects, goes through the resolver and is
// checked again against the address policy right before connect.
type DownloadClient struct {
	httpClient   *http.Client
	resolver     HostResolver
	allow        netguard.AddrPolicy
	dialer       *net.Dialer
	maxRedirects int
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewDownloadClient creates a DownloadClient that only connects to globally routable addresses.
func NewDownloadClient(cfg *config.Config, res *resolver.Resolver, logger *slog.Logger, m *metrics.Metrics) *DownloadClient {
	return NewDownloadClientWithPolicy(cfg, res, netguard.IsGlobal, logger, m)
}

// NewDownloadClientWithPolicy creates a DownloadClient with a custom address policy.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewDownloadClientWithPolicy(cfg *config.Config, res HostResolver, allow netguard.AddrPolicy, logger *slog.Logger, m *metrics.Metrics) *DownloadClient {
	c := &DownloadClient{
		resolver:     res,
		allow:        allow,
		maxRedirects: cfg.Download.MaxRedirects,
		logger:       logger.With("component", "download_client"),
		metrics:      m,
	}
	c.dialer = &net.Dialer{
		Timeout:   cfg.Download.ConnectTimeout(),
		KeepAlive: 30 * time.Second,
		Control:   c.controlDial,
	}

	transport := &http.Transport{
		// Environment proxies would connect on our behalf and bypass the guard.
		Proxy:                 nil,
		DialContext:           c.dialContext,
		DisableCompression:    true,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          cfg.Download.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Download.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}

	// No overall timeout: a body may legitimately take a long time to stream.
	c.httpClient = &http.Client{
		Transport:     transport,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// Get issues a GET for target and returns the response with its body unread.
// The context controls the whole exchange, including the body stream: when
// it is canceled (e.g. client disconnects), the upstream request is too.
func (c *DownloadClient) Get(ctx context.Context, target *url.URL) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("upstream request", "host", target.Host, "path", target.Path)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	if c.metrics != nil {
		c.metrics.UpstreamDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Close releases idle upstream connections.
func (c *DownloadClient) Close() {
	c.httpClient.CloseIdleConnections()
}

// dialContext resolves the host through the restricted resolver and tries
// each permitted address in order.
func (c *DownloadClient) dialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("dial %s: invalid port %q", host, portStr)
	}

	addrs, err := c.resolver.LookupAddrs(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", host, err)
	}

	var firstErr error
	for _, addr := range addrs {
		if !matchesNetwork(network, addr) {
			continue
		}
		conn, err := c.dialer.DialContext(ctx, network, netip.AddrPortFrom(addr, uint16(port)).String())
		if err == nil {
			return conn, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if ctx.Err() != nil {
			break
		}
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("dial %s: no %s address", host, network)
	}
	return nil, firstErr
}

// controlDial runs on the raw socket before connect and re-checks the
// concrete address, whatever path produced it.
func (c *DownloadClient) controlDial(network, address string, _ syscall.RawConn) error {
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: unparsable dial address %q", netguard.ErrBlockedAddress, address)
	}
	if !c.allow(ap.Addr()) {
		c.logger.Warn("blocked connection at dial time", "network", network, "address", address)
		return fmt.Errorf("%w: %s", netguard.ErrBlockedAddress, address)
	}
	return nil
}

func (c *DownloadClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, c.maxRedirects)
	}
	if err := netguard.CheckURLWith(req.URL, c.allow); err != nil {
		return fmt.Errorf("redirect to %s: %w", req.URL.Redacted(), err)
	}
	return nil
}

func matchesNetwork(network string, addr netip.Addr) bool {
	switch network {
	case "tcp4":
		return addr.Is4()
	case "tcp6":
		return addr.Is6()
	default:
		return true
	}
}
