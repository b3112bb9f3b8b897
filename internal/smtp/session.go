package smtp

import (
	"errors"
	"io"
	"log/slog"

	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
)

// Session implements the go-smtp Session interface. One session carries
// one submission from an SMTP client into the mail pipeline.
type Session struct {
	id         string
	backend    *Backend
	from       string
	recipients []string
}

// NewSession creates a new SMTP session
func NewSession(backend *Backend) *Session {
	return &Session{
		id:         uuid.NewString(),
		backend:    backend,
		recipients: make([]string, 0),
	}
}

// AuthPlain handles PLAIN authentication. The gateway listens on
// loopback; the pipeline's own wallet gating is the real access control.
func (s *Session) AuthPlain(username, password string) error {
	return nil
}

// Mail handles the MAIL FROM command
func (s *Session) Mail(from string, opts *smtp.MailOptions) error {
	account, _, err := parseGatewayAddress(from, s.backend.domain)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 7},
			Message:      "Invalid sender address",
		}
	}
	s.from = account
	if s.backend.logger != nil {
		s.backend.logger.Debug("MAIL FROM",
			slog.String("session", s.id), slog.String("from", from))
	}
	return nil
}

// Rcpt handles the RCPT TO command. Recipients must be chain-registered
// accounts under the gateway domain.
func (s *Session) Rcpt(to string, opts *smtp.RcptOptions) error {
	account, _, err := parseGatewayAddress(to, s.backend.domain)
	if err != nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Invalid recipient address",
		}
	}

	record, err := s.backend.chain.GetAccountRecord(account)
	if err != nil {
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Temporary error",
		}
	}
	if record == nil {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Recipient account not registered",
		}
	}

	s.recipients = append(s.recipients, account)
	if s.backend.logger != nil {
		s.backend.logger.Debug("RCPT TO",
			slog.String("session", s.id), slog.String("to", to))
	}
	return nil
}

// Data handles the DATA command: parse the MIME submission and feed it
// to the send pipeline, once per recipient.
func (s *Session) Data(r io.Reader) error {
	if len(s.recipients) == 0 {
		return &smtp.SMTPError{
			Code:         503,
			EnhancedCode: smtp.EnhancedCode{5, 5, 1},
			Message:      "No recipients specified",
		}
	}

	parsed, err := ParseEmail(r)
	if err != nil {
		return &smtp.SMTPError{
			Code:         554,
			EnhancedCode: smtp.EnhancedCode{5, 6, 0},
			Message:      "Could not parse message",
		}
	}

	for _, recipient := range s.recipients {
		id, err := s.backend.client.SendEmail(s.from, recipient, parsed.Subject, parsed.BodyText, models.MessageID{})
		if err != nil {
			if s.backend.logger != nil {
				s.backend.logger.Error("gateway submission failed",
					slog.String("session", s.id),
					slog.String("recipient", recipient),
					slog.String("error", err.Error()))
			}
			return submissionError(err)
		}
		if s.backend.logger != nil {
			s.backend.logger.Info("gateway submission accepted",
				slog.String("session", s.id),
				slog.String("recipient", recipient),
				slog.String("id", id.String()))
		}
	}
	return nil
}

// Reset clears the session state
func (s *Session) Reset() {
	s.from = ""
	s.recipients = s.recipients[:0]
}

// Logout handles session termination
func (s *Session) Logout() error {
	return nil
}

func submissionError(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrWalletLocked):
		return &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Wallet is locked",
		}
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "Unknown account",
		}
	default:
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "Submission failed",
		}
	}
}
