package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"unicode/utf8"

	"eclipse-api-go/internal/client"
	"eclipse-api-go/internal/model"
	"eclipse-api-go/internal/netguard"
	"eclipse-api-go/internal/resolver"
)

// Fetcher performs the outbound GET for a validated target.
type Fetcher interface {
	Get(ctx context.Context, target *url.URL) (*model.UpstreamResponse, error)
}

// guardErrors are the netguard rejections, possibly hit while following a redirect.
var guardErrors = []error{
	netguard.ErrSchemeNotAllowed,
	netguard.ErrEmptyHost,
	netguard.ErrCredentials,
	netguard.ErrBlockedAddress,
	netguard.ErrBlockedHost,
	resolver.ErrNoRoutableAddress,
}

// DownloadService validates caller-supplied URLs and fetches them.
type DownloadService struct {
	fetcher Fetcher
	allow   netguard.AddrPolicy
	logger  *slog.Logger
}

// NewDownloadService creates a DownloadService that only admits globally routable literal hosts.
func NewDownloadService(c *client.DownloadClient, logger *slog.Logger) *DownloadService {
	return NewDownloadServiceWithPolicy(c, netguard.IsGlobal, logger)
}

// NewDownloadServiceWithPolicy creates a DownloadService with a custom policy for literal IP hosts.
// This is intended for tests that use httptest servers on loopback.
func NewDownloadServiceWithPolicy(f Fetcher, allow netguard.AddrPolicy, logger *slog.Logger) *DownloadService {
	return &DownloadService{
		fetcher: f,
		allow:   allow,
		logger:  logger.With("component", "download_service"),
	}
}

// ParseTarget percent-decodes raw once and validates the resulting URL.
// raw is the query parameter value after the usual query decoding.
func (s *DownloadService) ParseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidInput)
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidInput, err)
	}
	if !utf8.ValidString(decoded) {
		return nil, fmt.Errorf("%w: decoded url is not valid UTF-8", ErrInvalidInput)
	}

	target, err := url.Parse(decoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !target.IsAbs() {
		return nil, fmt.Errorf("%w: url is not absolute", ErrInvalidInput)
	}
	if err := netguard.CheckURLWith(target, s.allow); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBlockedTarget, err)
	}
	return target, nil
}

// Fetch validates raw and issues the upstream request. The caller is
// responsible for closing the response body.
func (s *DownloadService) Fetch(ctx context.Context, raw string) (*model.UpstreamResponse, error) {
	target, err := s.ParseTarget(raw)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("requesting url", "url", target.Redacted())

	resp, err := s.fetcher.Get(ctx, target)
	if err != nil {
		return nil, classifyFetchError(err)
	}
	return resp, nil
}

// classifyFetchError assigns a category to a fetch failure. Resolver
// construction failures keep their own identity.
func classifyFetchError(err error) error {
	if errors.Is(err, resolver.ErrResolverUnavailable) {
		return err
	}
	for _, g := range guardErrors {
		if errors.Is(err, g) {
			return fmt.Errorf("%w: %w", ErrBlockedTarget, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
}
