package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/chainmail-net/chainmail/internal/api/response"
	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
)

// MailClient is the mail facade surface the API exposes.
type MailClient interface {
	SendEmail(from, to, subject, body string, replyTo models.MessageID) (models.MessageID, error)
	SendEncryptedMessage(ciphertext models.Message, from, to string, recipientKey models.PublicKey) (models.MessageID, error)
	RetryMessage(id models.MessageID) error
	CancelMessage(id models.MessageID) error
	RemoveMessage(id models.MessageID) error
	ArchiveMessage(id models.MessageID) error
	CheckNewMessages(ctx context.Context, includeHistorical bool) (int, error)
	GetMessage(id models.MessageID) (models.EmailRecord, error)
	GetInbox() ([]models.EmailHeader, error)
	GetProcessingMessages() ([]models.MessageStatus, error)
	GetArchiveMessages() ([]models.MessageStatus, error)
	GetMessagesBySender(sender string) ([]models.EmailHeader, error)
	GetMessagesByRecipient(recipient string) ([]models.EmailHeader, error)
	GetMessagesInConversation(accountOne, accountTwo string) ([]models.EmailHeader, error)
}

// MailHandler handles mail-related HTTP requests
type MailHandler struct {
	client MailClient
}

// NewMailHandler creates a new MailHandler
func NewMailHandler(client MailClient) *MailHandler {
	return &MailHandler{client: client}
}

// SendRequest is the body of POST /mail/send
type SendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	ReplyTo string `json:"reply_to,omitempty"`
}

// SendEncryptedRequest is the body of POST /mail/encrypted
type SendEncryptedRequest struct {
	From         string         `json:"from"`
	To           string         `json:"to"`
	RecipientKey string         `json:"recipient_key"`
	Message      models.Message `json:"message"`
}

// CheckRequest is the body of POST /mail/check
type CheckRequest struct {
	IncludeHistorical bool `json:"include_historical"`
}

// Send handles POST /api/v1/mail/send
func (h *MailHandler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.From == "" || req.To == "" {
		return response.BadRequest(c, "from and to are required")
	}

	var replyTo models.MessageID
	if req.ReplyTo != "" {
		parsed, err := models.ParseMessageID(req.ReplyTo)
		if err != nil {
			return response.BadRequest(c, "invalid reply_to message ID")
		}
		replyTo = parsed
	}

	id, err := h.client.SendEmail(req.From, req.To, req.Subject, req.Body, replyTo)
	if err != nil {
		return mailError(c, err, "failed to send message")
	}
	return response.Created(c, map[string]string{"id": id.String()})
}

// SendEncrypted handles POST /api/v1/mail/encrypted
func (h *MailHandler) SendEncrypted(c echo.Context) error {
	var req SendEncryptedRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	recipientKey, err := models.ParsePublicKey(req.RecipientKey)
	if err != nil {
		return response.BadRequest(c, "invalid recipient key")
	}

	id, err := h.client.SendEncryptedMessage(req.Message, req.From, req.To, recipientKey)
	if err != nil {
		return mailError(c, err, "failed to send message")
	}
	return response.Created(c, map[string]string{"id": id.String()})
}

// Get handles GET /api/v1/mail/messages/:id
func (h *MailHandler) Get(c echo.Context) error {
	id, err := models.ParseMessageID(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	record, err := h.client.GetMessage(id)
	if err != nil {
		return mailError(c, err, "failed to get message")
	}
	return response.Success(c, record)
}

// Inbox handles GET /api/v1/mail/inbox
func (h *MailHandler) Inbox(c echo.Context) error {
	headers, err := h.client.GetInbox()
	if err != nil {
		return mailError(c, err, "failed to list inbox")
	}
	return response.Success(c, headers)
}

// Processing handles GET /api/v1/mail/processing
func (h *MailHandler) Processing(c echo.Context) error {
	pairs, err := h.client.GetProcessingMessages()
	if err != nil {
		return mailError(c, err, "failed to list processing messages")
	}
	return response.Success(c, pairs)
}

// Archive handles GET /api/v1/mail/archive
func (h *MailHandler) Archive(c echo.Context) error {
	pairs, err := h.client.GetArchiveMessages()
	if err != nil {
		return mailError(c, err, "failed to list archive messages")
	}
	return response.Success(c, pairs)
}

// BySender handles GET /api/v1/mail/from/:sender
func (h *MailHandler) BySender(c echo.Context) error {
	headers, err := h.client.GetMessagesBySender(c.Param("sender"))
	return indexedHeaders(c, headers, err)
}

// ByRecipient handles GET /api/v1/mail/to/:recipient
func (h *MailHandler) ByRecipient(c echo.Context) error {
	headers, err := h.client.GetMessagesByRecipient(c.Param("recipient"))
	return indexedHeaders(c, headers, err)
}

// Conversation handles GET /api/v1/mail/conversation/:a/:b
func (h *MailHandler) Conversation(c echo.Context) error {
	headers, err := h.client.GetMessagesInConversation(c.Param("a"), c.Param("b"))
	return indexedHeaders(c, headers, err)
}

// Retry handles POST /api/v1/mail/messages/:id/retry
func (h *MailHandler) Retry(c echo.Context) error {
	id, err := models.ParseMessageID(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}
	if err := h.client.RetryMessage(id); err != nil {
		return mailError(c, err, "failed to retry message")
	}
	return response.SuccessWithMessage(c, nil, "message re-submitted")
}

// Cancel handles POST /api/v1/mail/messages/:id/cancel
func (h *MailHandler) Cancel(c echo.Context) error {
	id, err := models.ParseMessageID(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}
	if err := h.client.CancelMessage(id); err != nil {
		return mailError(c, err, "failed to cancel message")
	}
	return response.SuccessWithMessage(c, nil, "message canceled")
}

// Remove handles DELETE /api/v1/mail/messages/:id
func (h *MailHandler) Remove(c echo.Context) error {
	id, err := models.ParseMessageID(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}
	if err := h.client.RemoveMessage(id); err != nil {
		return mailError(c, err, "failed to remove message")
	}
	return response.NoContent(c)
}

// ArchiveOne handles POST /api/v1/mail/messages/:id/archive
func (h *MailHandler) ArchiveOne(c echo.Context) error {
	id, err := models.ParseMessageID(c.Param("id"))
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}
	if err := h.client.ArchiveMessage(id); err != nil {
		return mailError(c, err, "failed to archive message")
	}
	return response.SuccessWithMessage(c, nil, "message archived")
}

// Check handles POST /api/v1/mail/check
func (h *MailHandler) Check(c echo.Context) error {
	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	count, err := h.client.CheckNewMessages(c.Request().Context(), req.IncludeHistorical)
	if err != nil {
		return mailError(c, err, "failed to check for new mail")
	}
	return response.Success(c, map[string]int{"count": count})
}

// indexedHeaders answers a secondary-index query, translating a rebuild
// in progress into an empty result with an advisory.
func indexedHeaders(c echo.Context, headers []models.EmailHeader, err error) error {
	if errors.Is(err, apperrors.ErrIndexing) {
		return response.SuccessWithMessage(c, []models.EmailHeader{},
			"mail archive is currently indexing, please try again later")
	}
	if err != nil {
		return mailError(c, err, "failed to query messages")
	}
	return response.Success(c, headers)
}

// mailError maps facade errors onto API responses.
func mailError(c echo.Context, err error, fallback string) error {
	switch {
	case errors.Is(err, apperrors.ErrMessageNotFound), errors.Is(err, apperrors.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, apperrors.ErrAccountNotFound),
		errors.Is(err, apperrors.ErrNotPlaintext),
		errors.Is(err, apperrors.ErrInvalidInput):
		return response.BadRequest(c, err.Error())
	case errors.Is(err, apperrors.ErrWalletLocked):
		return response.Conflict(c, err.Error(), apperrors.CodeWalletLocked)
	case errors.Is(err, apperrors.ErrTooLateToCancel):
		return response.Conflict(c, err.Error(), apperrors.CodeTooLateToCancel)
	case errors.Is(err, apperrors.ErrNotFailed):
		return response.Conflict(c, err.Error(), apperrors.CodeNotFailed)
	case errors.Is(err, apperrors.ErrClientClosed):
		return response.Conflict(c, err.Error(), apperrors.CodeClientClosed)
	default:
		return response.InternalError(c, fallback)
	}
}
