// Package service implements the download proxy and box-art search use cases.
package service

import "errors"

// Error categories. Every error returned by this package wraps exactly one of
// them (resolver.ErrResolverUnavailable excepted), alongside the root cause.
var (
	// ErrInvalidInput means the caller's parameters are missing or malformed.
	ErrInvalidInput = errors.New("invalid input")
	// ErrBlockedTarget means the target is not allowed: bad scheme, local host,
	// or no globally routable address.
	ErrBlockedTarget = errors.New("blocked target")
	// ErrUpstreamFailure means the remote host could not be reached or misbehaved.
	ErrUpstreamFailure = errors.New("upstream failure")
)
