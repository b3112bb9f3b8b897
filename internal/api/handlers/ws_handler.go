package handlers

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	ws "github.com/chainmail-net/chainmail/internal/websocket"
	gorilla "github.com/gorilla/websocket"
)

// WSHandler upgrades API connections into notification subscribers.
type WSHandler struct {
	hub      *ws.Hub
	upgrader gorilla.Upgrader
	logger   *slog.Logger
}

// NewWSHandler creates a new WSHandler
func NewWSHandler(hub *ws.Hub, allowedOrigins string, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		hub:      hub,
		upgrader: ws.NewSecureUpgrader(allowedOrigins, logger),
		logger:   logger,
	}
}

// Serve handles GET /ws
func (h *WSHandler) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return nil
	}

	client := ws.NewClient(h.hub, conn, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
	return nil
}
