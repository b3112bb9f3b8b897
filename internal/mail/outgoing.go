package mail

import (
	"fmt"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
)

// SendEmail composes, encrypts and submits an email. The returned ID is
// the stable handle for the message's processing lifetime; once accepted
// the archive knows it under its mined content ID.
func (c *Client) SendEmail(from, to, subject, body string, replyTo models.MessageID) (models.MessageID, error) {
	if !c.wallet.IsOpen() || !c.wallet.IsUnlocked() {
		return models.MessageID{}, apperrors.ErrWalletLocked
	}
	if err := c.requireOpen(); err != nil {
		return models.MessageID{}, err
	}

	recipient, err := c.chain.GetAccountRecord(to)
	if err != nil {
		return models.MessageID{}, fmt.Errorf("look up recipient %q: %w", to, err)
	}
	if recipient == nil {
		return models.MessageID{}, fmt.Errorf("could not find recipient account %q: %w", to, apperrors.ErrAccountNotFound)
	}

	// All mail is addressed to the owner key but encrypted with the
	// active key.
	plaintext, err := c.wallet.MailCreate(from, subject, body, replyTo)
	if err != nil {
		return models.MessageID{}, err
	}
	plaintext.Recipient = recipient.OwnerKey

	ciphertext, err := c.wallet.MailEncrypt(recipient.ActiveKey, plaintext)
	if err != nil {
		return models.MessageID{}, err
	}
	ciphertext.Recipient = plaintext.Recipient

	rec := models.NewProcessingRecord(from, to, recipient.OwnerKey, ciphertext)
	if err := c.processOutgoingMail(rec); err != nil {
		return models.MessageID{}, err
	}
	return rec.ID, nil
}

// SendEncryptedMessage submits a pre-encrypted message. Plaintext
// messages are refused.
func (c *Client) SendEncryptedMessage(ciphertext models.Message, from, to string, recipientKey models.PublicKey) (models.MessageID, error) {
	if err := c.requireOpen(); err != nil {
		return models.MessageID{}, err
	}
	if ciphertext.Type != models.TypeEncrypted {
		return models.MessageID{}, apperrors.ErrNotPlaintext
	}

	ciphertext.Recipient = recipientKey
	rec := models.NewProcessingRecord(from, to, recipientKey, ciphertext)
	if err := c.processOutgoingMail(rec); err != nil {
		return models.MessageID{}, err
	}
	return rec.ID, nil
}

// processOutgoingMail starts a submission on its pipeline journey:
// resolve the recipient's servers, persist, then head for proof of work.
func (c *Client) processOutgoingMail(rec models.ProcessingRecord) error {
	rec.Servers = c.resolver.ServersForRecipient(rec.Recipient)
	if err := c.store.Processing.Put(rec.ID, rec); err != nil {
		return err
	}
	c.requestProofOfWorkTarget(rec.ID)
	return nil
}

// requestProofOfWorkTarget fixes the PoW ceiling for a submission and
// queues the mining job. With no reachable servers the submission fails
// here, before any work is spent.
func (c *Client) requestProofOfWorkTarget(id models.MessageID) {
	rec, err := c.store.Processing.Get(id)
	if err != nil {
		return
	}

	if len(rec.Servers) == 0 {
		c.markFailed(id, rec, "Could not find mail servers for this recipient.")
		return
	}

	// TODO: ask each resolved server for its target and take the minimum
	// instead of a client-wide ceiling.
	rec.PowTarget = c.powTarget
	if err := c.store.Processing.Put(id, rec); err != nil {
		return
	}

	c.schedulePow(id)
}
