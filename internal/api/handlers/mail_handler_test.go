package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
)

// stubClient answers every facade call from canned fields.
type stubClient struct {
	id      models.MessageID
	headers []models.EmailHeader
	record  models.EmailRecord
	count   int
	err     error

	sentFrom, sentTo, sentSubject, sentBody string
	canceled                                []models.MessageID
}

func (s *stubClient) SendEmail(from, to, subject, body string, replyTo models.MessageID) (models.MessageID, error) {
	s.sentFrom, s.sentTo, s.sentSubject, s.sentBody = from, to, subject, body
	return s.id, s.err
}

func (s *stubClient) SendEncryptedMessage(ciphertext models.Message, from, to string, recipientKey models.PublicKey) (models.MessageID, error) {
	return s.id, s.err
}

func (s *stubClient) RetryMessage(id models.MessageID) error  { return s.err }
func (s *stubClient) RemoveMessage(id models.MessageID) error { return s.err }
func (s *stubClient) ArchiveMessage(id models.MessageID) error {
	return s.err
}

func (s *stubClient) CancelMessage(id models.MessageID) error {
	s.canceled = append(s.canceled, id)
	return s.err
}

func (s *stubClient) CheckNewMessages(ctx context.Context, includeHistorical bool) (int, error) {
	return s.count, s.err
}

func (s *stubClient) GetMessage(id models.MessageID) (models.EmailRecord, error) {
	return s.record, s.err
}

func (s *stubClient) GetInbox() ([]models.EmailHeader, error) { return s.headers, s.err }
func (s *stubClient) GetProcessingMessages() ([]models.MessageStatus, error) {
	return nil, s.err
}
func (s *stubClient) GetArchiveMessages() ([]models.MessageStatus, error) { return nil, s.err }
func (s *stubClient) GetMessagesBySender(sender string) ([]models.EmailHeader, error) {
	return s.headers, s.err
}
func (s *stubClient) GetMessagesByRecipient(recipient string) ([]models.EmailHeader, error) {
	return s.headers, s.err
}
func (s *stubClient) GetMessagesInConversation(a, b string) ([]models.EmailHeader, error) {
	return s.headers, s.err
}

func doRequest(t *testing.T, handler echo.HandlerFunc, method, path, body string, pathParams map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rr := httptest.NewRecorder()
	c := e.NewContext(req, rr)
	for name, value := range pathParams {
		c.SetParamNames(name)
		c.SetParamValues(value)
	}
	require.NoError(t, handler(c))
	return rr
}

func TestSend_Success(t *testing.T) {
	stub := &stubClient{id: models.Digest([]byte("new"))}
	handler := NewMailHandler(stub)

	rr := doRequest(t, handler.Send, http.MethodPost, "/api/v1/mail/send",
		`{"from":"alice","to":"bob","subject":"hi","body":"hello"}`, nil)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), stub.id.String())
	assert.Equal(t, "alice", stub.sentFrom)
	assert.Equal(t, "bob", stub.sentTo)
}

func TestSend_MissingFields(t *testing.T) {
	handler := NewMailHandler(&stubClient{})
	rr := doRequest(t, handler.Send, http.MethodPost, "/api/v1/mail/send", `{"subject":"hi"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSend_WalletLocked(t *testing.T) {
	handler := NewMailHandler(&stubClient{err: apperrors.ErrWalletLocked})
	rr := doRequest(t, handler.Send, http.MethodPost, "/api/v1/mail/send",
		`{"from":"alice","to":"bob"}`, nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), apperrors.CodeWalletLocked)
}

func TestSend_UnknownRecipient(t *testing.T) {
	handler := NewMailHandler(&stubClient{err: apperrors.ErrAccountNotFound})
	rr := doRequest(t, handler.Send, http.MethodPost, "/api/v1/mail/send",
		`{"from":"alice","to":"ghost"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGet_InvalidID(t *testing.T) {
	handler := NewMailHandler(&stubClient{})
	rr := doRequest(t, handler.Get, http.MethodGet, "/", "", map[string]string{"id": "zz"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGet_NotFound(t *testing.T) {
	handler := NewMailHandler(&stubClient{err: apperrors.ErrMessageNotFound})
	id := models.Digest([]byte("gone"))
	rr := doRequest(t, handler.Get, http.MethodGet, "/", "", map[string]string{"id": id.String()})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCancel_TooLate(t *testing.T) {
	handler := NewMailHandler(&stubClient{err: apperrors.ErrTooLateToCancel})
	id := models.Digest([]byte("late"))
	rr := doRequest(t, handler.Cancel, http.MethodPost, "/", "", map[string]string{"id": id.String()})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), apperrors.CodeTooLateToCancel)
}

func TestBySender_IndexingAdvisory(t *testing.T) {
	handler := NewMailHandler(&stubClient{err: apperrors.ErrIndexing})
	rr := doRequest(t, handler.BySender, http.MethodGet, "/", "", map[string]string{"sender": "alice"})

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "currently indexing")
}

func TestCheck_ReturnsCount(t *testing.T) {
	handler := NewMailHandler(&stubClient{count: 3})
	rr := doRequest(t, handler.Check, http.MethodPost, "/api/v1/mail/check",
		`{"include_historical":false}`, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"count":3`)
}

func TestInbox_Success(t *testing.T) {
	stub := &stubClient{headers: []models.EmailHeader{{Sender: "alice", Subject: "hi"}}}
	handler := NewMailHandler(stub)
	rr := doRequest(t, handler.Inbox, http.MethodGet, "/api/v1/mail/inbox", "", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"subject":"hi"`)
}
