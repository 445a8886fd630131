package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"

	"eclipse-api-go/internal/relay"
	"eclipse-api-go/internal/resolver"
	"eclipse-api-go/internal/service"
)

// DownloadHandler fetches a caller-supplied URL and streams it back.
type DownloadHandler struct {
	service *service.DownloadService
	relay   *relay.Relay
	logger  *slog.Logger
}

// NewDownloadHandler creates a DownloadHandler.
func NewDownloadHandler(svc *service.DownloadService, r *relay.Relay, logger *slog.Logger) *DownloadHandler {
	return &DownloadHandler{
		service: svc,
		relay:   r,
		logger:  logger.With("component", "download_handler"),
	}
}

// Handle serves GET /download?url=...
func (h *DownloadHandler) Handle(c echo.Context) error {
	raw := c.QueryParam("url")
	if raw == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing url param",
		})
	}

	resp, err := h.service.Fetch(c.Request().Context(), raw)
	if err != nil {
		return h.mapError(c, err)
	}

	// The status line is out once Write starts, so failures past this point
	// can only be logged.
	n, err := h.relay.Write(c.Response(), resp)
	if err != nil {
		h.logger.Warn("relaying response body",
			"err", err,
			"status", resp.StatusCode,
			"bytes", n,
		)
	}
	return nil
}

func (h *DownloadHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrBlockedTarget):
		h.logger.Info("rejected download target", "err", err)
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid url",
		})

	case errors.Is(err, resolver.ErrResolverUnavailable):
		h.logger.Error("resolver unavailable", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}

	h.logger.Error("download failed", "err", err)

	if isTimeout(err) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "upstream request timed out",
		})
	}

	if errors.Is(err, context.Canceled) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "client disconnected",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream host unreachable",
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "upstream request failed",
	})
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
