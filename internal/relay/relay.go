// Package relay streams an upstream response back to the downstream client.
package relay

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"

	"eclipse-api-go/internal/metrics"
	"eclipse-api-go/internal/model"
)

// ErrRelay is returned when the downstream response could not be written.
var ErrRelay = errors.New("relay failed")

// FallbackStatus replaces upstream status codes that cannot be sent downstream.
const FallbackStatus = http.StatusBadRequest

const bufferSize = 32 * 1024

// hopByHopHeaders describe a single connection and are never relayed.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// listHeaders hold comma-separated lists; when set locally, the upstream
// tokens are merged in rather than discarded.
var listHeaders = map[string]bool{
	"Vary": true,
}

// Relay copies upstream responses to clients.
type Relay struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a Relay. Pass nil for m to disable metrics.
func New(logger *slog.Logger, m *metrics.Metrics) *Relay {
	return &Relay{
		logger:  logger.With("component", "relay"),
		metrics: m,
	}
}

// Write sends resp's status, relayable headers and body to w, and returns the
// number of body bytes written. Headers already present on w are kept and the
// upstream values for them are discarded, except for list headers such as
// Vary, whose upstream tokens are merged in. The body is flushed after every
// chunk and never buffered whole. A downstream write failure stops reading
// from upstream at once and is reported as ErrRelay. resp.Body is always closed.
func (r *Relay) Write(w http.ResponseWriter, resp *model.UpstreamResponse) (int64, error) {
	defer func() { _ = resp.Body.Close() }()

	status := resp.StatusCode
	if !validStatus(status) {
		r.logger.Warn("upstream status not representable", "status", status, "fallback", FallbackStatus)
		status = FallbackStatus
	}

	if dropped := r.copyHeaders(w.Header(), resp.Header); dropped > 0 && r.metrics != nil {
		r.metrics.DroppedHeaders.Add(float64(dropped))
	}
	w.WriteHeader(status)

	n, err := copyBody(w, resp.Body)
	if r.metrics != nil {
		r.metrics.RelayedBytes.Add(float64(n))
	}
	return n, err
}

// validStatus reports whether code can be sent as a final status. 1xx codes
// are informational in net/http and would be followed by an implicit 200.
func validStatus(code int) bool {
	return code >= 200 && code <= 599
}

// copyHeaders adds the relayable upstream headers to dst and returns how many
// values were dropped.
func (r *Relay) copyHeaders(dst, src http.Header) int {
	preset := make(map[string]bool, len(dst))
	for name := range dst {
		preset[name] = true
	}
	nominated := connectionTokens(src)

	var dropped int
	for name, values := range src {
		key := textproto.CanonicalMIMEHeaderKey(name)
		if preset[key] {
			if listHeaders[key] {
				mergeTokens(dst, key, values)
			}
			continue
		}
		if hopByHopHeaders[key] || nominated[key] || !httpguts.ValidHeaderFieldName(name) {
			r.logger.Debug("dropped upstream header", "name", name)
			dropped += len(values)
			continue
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				r.logger.Debug("dropped invalid header value", "name", name)
				dropped++
				continue
			}
			dst[key] = append(dst[key], v)
		}
	}
	return dropped
}

// mergeTokens adds the comma-separated tokens of values that dst[key] does not
// already list.
func mergeTokens(dst http.Header, key string, values []string) {
	have := make(map[string]bool)
	for _, tok := range splitTokens(dst[key]) {
		have[strings.ToLower(tok)] = true
	}
	for _, tok := range splitTokens(values) {
		if !have[strings.ToLower(tok)] && httpguts.ValidHeaderFieldValue(tok) {
			have[strings.ToLower(tok)] = true
			dst[key] = append(dst[key], tok)
		}
	}
}

func splitTokens(values []string) []string {
	var out []string
	for _, v := range values {
		for _, tok := range strings.Split(v, ",") {
			if tok = strings.TrimSpace(tok); tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// connectionTokens returns the header names listed in Connection, which are
// hop-by-hop for this message only.
func connectionTokens(h http.Header) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range splitTokens(h.Values("Connection")) {
		tokens[textproto.CanonicalMIMEHeaderKey(tok)] = true
	}
	return tokens
}

// copyBody streams src to w chunk by chunk, flushing after each write.
// Upstream read errors are returned as-is; downstream write errors wrap ErrRelay.
func copyBody(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, bufferSize)

	var written int64
	for {
		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: write to client: %w", ErrRelay, werr)
			}
			if nw != nr {
				return written, fmt.Errorf("%w: %w", ErrRelay, io.ErrShortWrite)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("read upstream body: %w", rerr)
		}
	}
}
