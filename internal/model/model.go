// Package model defines shared types for the API.
package model

import (
	"io"
	"net/http"
)

// UpstreamResponse is a fetched upstream response whose body has not been read yet.
// The consumer is responsible for closing Body.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Game is one box-art search result.
type Game struct {
	Name   string `json:"name"`
	Boxart string `json:"boxart"`
	System string `json:"system"`
	Region string `json:"region"`
}
