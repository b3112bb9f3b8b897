// Package logger provides logging setup for the chainmail client.
package logger

import (
	"log/slog"
	"os"
	"strings"
	"time"
)

// New creates a JSON slog logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(level string) *slog.Logger {
	return NewWithHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

// NewWithHandler creates a logger with a custom handler.
func NewWithHandler(handler slog.Handler) *slog.Logger {
	return slog.New(handler)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// MailLogger provides methods for logging mail pipeline events with a
// consistent shape. Message bodies and keys are never logged.
type MailLogger struct {
	logger *slog.Logger
}

// NewMailLogger wraps a logger for pipeline event logging.
func NewMailLogger(logger *slog.Logger) *MailLogger {
	return &MailLogger{logger: logger}
}

// MessageAccepted logs a successful transmission, naming both the stable
// submission ID and the final content ID the archive knows it by.
func (m *MailLogger) MessageAccepted(stableID, finalID string, servers int) {
	m.logger.Info("message_accepted",
		slog.String("event_type", "accepted"),
		slog.String("id", stableID),
		slog.String("final_id", finalID),
		slog.Int("servers", servers),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// MessageFailed logs a terminal pipeline failure.
func (m *MailLogger) MessageFailed(id, reason string) {
	m.logger.Warn("message_failed",
		slog.String("event_type", "failed"),
		slog.String("id", id),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// NewMail logs the arrival of newly received messages for an account.
func (m *MailLogger) NewMail(account string, count int) {
	m.logger.Info("new_mail",
		slog.String("event_type", "new_mail"),
		slog.String("account", account),
		slog.Int("count", count),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// FetchTimeout logs an expired fetch pass for an account.
func (m *MailLogger) FetchTimeout(account string) {
	m.logger.Warn("fetch_timeout",
		slog.String("event_type", "fetch_timeout"),
		slog.String("account", account),
		slog.Time("timestamp", time.Now().UTC()),
	)
}
