package mail

import (
	"fmt"
	"log/slog"
	"sort"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
)

// RetryMessage re-dispatches a failed submission from the beginning of
// the pipeline.
func (c *Client) RetryMessage(id models.MessageID) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	rec, err := c.store.Processing.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrMessageNotFound, id)
	}
	if rec.Status != models.StatusFailed {
		return fmt.Errorf("%w: cannot retry sending", apperrors.ErrNotFailed)
	}

	rec.Status = models.StatusSubmitted
	rec.FailureReason = ""
	c.dispatch(rec)
	return nil
}

// CancelMessage flags an in-flight submission as canceled. The pipeline
// observes the flag at its next checkpoint; a message that already
// reached the servers can no longer be called back.
func (c *Client) CancelMessage(id models.MessageID) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	rec, err := c.store.Processing.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrMessageNotFound, id)
	}
	if rec.Status > models.StatusProofOfWork {
		return apperrors.ErrTooLateToCancel
	}

	rec.Status = models.StatusCanceled
	return c.store.Processing.Put(id, rec)
}

// RemoveMessage deletes a parked failure from processing, or failing
// that, a stored message from the archive.
func (c *Client) RemoveMessage(id models.MessageID) error {
	if err := c.requireOpen(); err != nil {
		return err
	}

	if rec, ok := c.store.Processing.GetOptional(id); ok {
		if rec.Status != models.StatusFailed {
			return fmt.Errorf("cannot remove message during processing: %w", apperrors.ErrInvalidInput)
		}
		return c.store.Processing.Delete(id)
	}

	if _, ok := c.store.Archive.GetOptional(id); ok {
		if err := c.store.Archive.Delete(id); err != nil {
			return err
		}
		c.index.Remove(id)
		return c.store.Inbox.Delete(id)
	}
	return nil
}

// ArchiveMessage clears a message out of the inbox. The archive copy
// stays.
func (c *Client) ArchiveMessage(id models.MessageID) error {
	if err := c.requireOpen(); err != nil {
		return err
	}
	if _, ok := c.store.Inbox.GetOptional(id); ok {
		return c.store.Inbox.Delete(id)
	}
	return nil
}

// GetMessage looks a message up by ID, trying processing first and the
// archive second, and decrypts the content when it can.
func (c *Client) GetMessage(id models.MessageID) (models.EmailRecord, error) {
	if err := c.requireOpen(); err != nil {
		return models.EmailRecord{}, err
	}

	if rec, ok := c.store.Processing.GetOptional(id); ok {
		return c.emailRecordFromProcessing(rec)
	}
	if rec, ok := c.store.Archive.GetOptional(id); ok {
		return c.emailRecordFromArchive(rec)
	}
	return models.EmailRecord{}, fmt.Errorf("%w: %s", apperrors.ErrMessageNotFound, id)
}

func (c *Client) emailRecordFromProcessing(rec models.ProcessingRecord) (models.EmailRecord, error) {
	if rec.Content.Type == models.TypeEncrypted {
		plaintext, err := c.wallet.MailOpenByKey(rec.RecipientKey, rec.Content)
		if err != nil {
			return models.EmailRecord{}, err
		}
		rec.Content = plaintext
	}
	record := models.EmailRecord{
		Header:  models.HeaderFromProcessing(rec),
		Content: rec.Content,
		Servers: rec.Servers,
	}
	if rec.Status == models.StatusFailed {
		record.FailureReason = rec.FailureReason
	}
	return record, nil
}

func (c *Client) emailRecordFromArchive(rec models.ArchiveRecord) (models.EmailRecord, error) {
	if rec.Content.Type == models.TypeEncrypted {
		plaintext, err := c.wallet.MailOpenByAddress(rec.RecipientAddress, rec.Content)
		if err != nil {
			return models.EmailRecord{}, err
		}
		rec.Content = plaintext
	}
	return models.EmailRecord{
		Header:  models.HeaderFromArchive(rec),
		Content: rec.Content,
		Servers: rec.Servers,
	}, nil
}

// GetInbox lists unread headers, oldest first.
func (c *Client) GetInbox() ([]models.EmailHeader, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	return c.store.Inbox.List(), nil
}

// GetProcessingMessages lists (status, id) pairs for every in-flight
// submission.
func (c *Client) GetProcessingMessages() ([]models.MessageStatus, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	pairs := make([]models.MessageStatus, 0)
	_ = c.store.Processing.ForEach(func(id models.MessageID, rec models.ProcessingRecord) error {
		pairs = append(pairs, models.MessageStatus{Status: rec.Status, ID: id})
		return nil
	})
	return sortedStatuses(pairs), nil
}

// GetArchiveMessages lists (status, id) pairs for every stored message.
func (c *Client) GetArchiveMessages() ([]models.MessageStatus, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	pairs := make([]models.MessageStatus, 0)
	err := c.store.Archive.ForEach(func(id models.MessageID, rec models.ArchiveRecord) error {
		pairs = append(pairs, models.MessageStatus{Status: rec.Status, ID: id})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortedStatuses(pairs), nil
}

// GetMessagesBySender lists headers of archived messages sent by sender.
// While the index is rebuilding this returns ErrIndexing instead of
// blocking or answering partially.
func (c *Client) GetMessagesBySender(sender string) ([]models.EmailHeader, error) {
	return c.headersFromIndex(func() []models.IndexRecord {
		return c.index.BySender(sender)
	})
}

// GetMessagesByRecipient lists headers of archived messages addressed to
// recipient.
func (c *Client) GetMessagesByRecipient(recipient string) ([]models.EmailHeader, error) {
	return c.headersFromIndex(func() []models.IndexRecord {
		return c.index.ByRecipient(recipient)
	})
}

// GetMessagesFromTo lists headers of archived messages from sender to
// recipient.
func (c *Client) GetMessagesFromTo(sender, recipient string) ([]models.EmailHeader, error) {
	return c.headersFromIndex(func() []models.IndexRecord {
		return c.index.FromTo(sender, recipient)
	})
}

// GetMessagesInConversation merges both directions of a correspondence,
// ordered by timestamp.
func (c *Client) GetMessagesInConversation(accountOne, accountTwo string) ([]models.EmailHeader, error) {
	forward, err := c.GetMessagesFromTo(accountOne, accountTwo)
	if err != nil {
		return nil, err
	}
	backward, err := c.GetMessagesFromTo(accountTwo, accountOne)
	if err != nil {
		return nil, err
	}
	conversation := append(forward, backward...)
	sort.Slice(conversation, func(i, j int) bool {
		return conversation[i].Timestamp.Before(conversation[j].Timestamp)
	})
	return conversation, nil
}

func (c *Client) headersFromIndex(query func() []models.IndexRecord) ([]models.EmailHeader, error) {
	if err := c.requireOpen(); err != nil {
		return nil, err
	}
	if c.index.Building() {
		c.logger.Info("mail archive is currently indexing, please try again later")
		return []models.EmailHeader{}, apperrors.ErrIndexing
	}

	headers := make([]models.EmailHeader, 0)
	for _, row := range query() {
		record, err := c.GetMessage(row.ID)
		if err != nil {
			c.logger.Warn("indexed message unreadable",
				slog.String("id", row.ID.String()), slog.String("error", err.Error()))
			continue
		}
		headers = append(headers, record.Header)
	}
	return headers, nil
}
