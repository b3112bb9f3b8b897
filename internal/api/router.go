// Package api assembles the HTTP surface of the chainmail daemon.
package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/chainmail-net/chainmail/internal/api/handlers"
	"github.com/chainmail-net/chainmail/internal/api/middleware"
	"github.com/chainmail-net/chainmail/internal/config"
	"github.com/chainmail-net/chainmail/internal/websocket"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	Client MailClient
	IsOpen func() bool
	Hub    *websocket.Hub
	Config *config.Config
	Logger *slog.Logger
}

// MailClient re-exports the handler-level facade surface.
type MailClient = handlers.MailClient

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.SecureCORS(cfg.Config.AllowedOrigins, cfg.Config.AppEnv))

	healthHandler := handlers.NewHealthHandler(cfg.IsOpen)
	mailHandler := handlers.NewMailHandler(cfg.Client)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/health/ready", healthHandler.Ready)

	api := e.Group("/api/v1")
	api.Use(middleware.APIKeyAuth(cfg.Config.APIKey, cfg.Logger))

	mail := api.Group("/mail")
	mail.POST("/send", mailHandler.Send)
	mail.POST("/encrypted", mailHandler.SendEncrypted)
	mail.POST("/check", mailHandler.Check)
	mail.GET("/inbox", mailHandler.Inbox)
	mail.GET("/processing", mailHandler.Processing)
	mail.GET("/archive", mailHandler.Archive)
	mail.GET("/from/:sender", mailHandler.BySender)
	mail.GET("/to/:recipient", mailHandler.ByRecipient)
	mail.GET("/conversation/:a/:b", mailHandler.Conversation)
	mail.GET("/messages/:id", mailHandler.Get)
	mail.POST("/messages/:id/retry", mailHandler.Retry)
	mail.POST("/messages/:id/cancel", mailHandler.Cancel)
	mail.POST("/messages/:id/archive", mailHandler.ArchiveOne)
	mail.DELETE("/messages/:id", mailHandler.Remove)

	if cfg.Hub != nil {
		wsHandler := handlers.NewWSHandler(cfg.Hub, cfg.Config.AllowedOrigins, cfg.Logger)
		e.GET("/ws", wsHandler.Serve)
	}

	return e
}
