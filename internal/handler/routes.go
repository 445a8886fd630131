package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, download *DownloadHandler, search *SearchHandler, health *HealthHandler) {
	e.GET("/", health.Index)
	e.GET("/healthz", health.Healthz)

	e.GET("/download", download.Handle)
	e.GET("/boxart", search.Boxart)
}
