package handler

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"eclipse-api-go/internal/service"
)

// SearchHandler serves box-art lookups.
type SearchHandler struct {
	service *service.SearchService
	logger  *slog.Logger
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(svc *service.SearchService, logger *slog.Logger) *SearchHandler {
	return &SearchHandler{
		service: svc,
		logger:  logger.With("component", "search_handler"),
	}
}

// Boxart serves GET /boxart?q=...&system=...
func (h *SearchHandler) Boxart(c echo.Context) error {
	q := c.QueryParam("q")
	if q == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "missing query param",
		})
	}

	games, err := h.service.Search(c.Request().Context(), q, c.QueryParam("system"))
	if err != nil {
		h.logger.Error("box-art search failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{
			"error": "internal error",
		})
	}
	return c.JSON(http.StatusOK, games)
}
