package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chainmail-net/chainmail/internal/store"
)

// HealthHandler handles liveness and readiness probes
type HealthHandler struct {
	isOpen func() bool
}

// NewHealthHandler creates a new HealthHandler. isOpen reports whether
// the mail client's stores are open.
func NewHealthHandler(isOpen func() bool) *HealthHandler {
	return &HealthHandler{isOpen: isOpen}
}

// Health handles GET /health
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"store_version": store.Version,
	})
}

// Ready handles GET /health/ready
func (h *HealthHandler) Ready(c echo.Context) error {
	if h.isOpen == nil || !h.isOpen() {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "mail client not open",
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ready",
	})
}
