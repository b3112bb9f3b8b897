// Package smtp implements a submission gateway: ordinary mail clients
// speak SMTP to the daemon, which maps each message onto the encrypted
// send pipeline.
package smtp

import (
	"log/slog"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/chainmail-net/chainmail/internal/api/handlers"
	"github.com/chainmail-net/chainmail/internal/directory"
)

// Security limits
const (
	// DefaultMaxMessageSize matches the mail servers' own size ceiling.
	DefaultMaxMessageSize = 1024 * 1024
	DefaultMaxRecipients  = 16
	DefaultReadTimeout    = 60 * time.Second
	DefaultWriteTimeout   = 60 * time.Second
	DefaultMaxLineLength  = 2000
)

// Backend implements the go-smtp Backend interface
type Backend struct {
	client handlers.MailClient
	chain  directory.ChainDB
	domain string
	logger *slog.Logger
}

// BackendConfig holds configuration for the SMTP gateway backend
type BackendConfig struct {
	Client handlers.MailClient
	Chain  directory.ChainDB
	Domain string
	Logger *slog.Logger
}

// NewBackend creates a new SMTP gateway backend
func NewBackend(cfg *BackendConfig) *Backend {
	return &Backend{
		client: cfg.Client,
		chain:  cfg.Chain,
		domain: cfg.Domain,
		logger: cfg.Logger,
	}
}

// NewSession creates a new SMTP session
func (b *Backend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	if b.logger != nil {
		b.logger.Info("new SMTP connection", slog.String("remote_addr", c.Conn().RemoteAddr().String()))
	}
	return NewSession(b), nil
}

// NewServer creates the gateway's SMTP server with conservative limits.
func NewServer(backend *Backend, addr string) *smtp.Server {
	s := smtp.NewServer(backend)

	s.Addr = addr
	s.Domain = backend.domain
	s.MaxMessageBytes = DefaultMaxMessageSize
	s.MaxRecipients = DefaultMaxRecipients
	s.ReadTimeout = DefaultReadTimeout
	s.WriteTimeout = DefaultWriteTimeout
	s.MaxLineLength = DefaultMaxLineLength
	s.AllowInsecureAuth = true

	return s
}
