package mail

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainmail-net/chainmail/internal/mailrpc"
	"github.com/chainmail-net/chainmail/internal/models"
	"github.com/chainmail-net/chainmail/internal/wallet"
)

// CheckNewMessages polls every local account's published servers for
// inbound mail and returns how many genuinely new messages arrived. With
// includeHistorical the poll reaches back to each account's registration
// date instead of its last fetch watermark.
func (c *Client) CheckNewMessages(ctx context.Context, includeHistorical bool) (int, error) {
	if err := c.requireOpen(); err != nil {
		return 0, err
	}

	count := c.checkNewMail(ctx, includeHistorical)
	if count > 0 && c.NewMailNotifier != nil {
		c.NewMailNotifier(count)
	}
	return count, nil
}

func (c *Client) checkNewMail(ctx context.Context, includeHistorical bool) int {
	var messagesIn atomic.Int64

	for _, account := range c.wallet.ListMyAccounts() {
		servers := c.resolver.ServersForRecipient(account.Name)

		lastCheck := account.RegistrationDate
		checkTime := c.chain.Now()
		if !includeHistorical {
			if t, ok, err := c.store.Properties.GetTime("last_fetch/" + account.Name); err == nil && ok {
				lastCheck = t
			}
		}

		actx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		before := messagesIn.Load()

		var tasks sync.WaitGroup
		var failures atomic.Int64
		for name, endpoint := range servers {
			tasks.Add(1)
			go func(name, endpoint string) {
				defer tasks.Done()
				if err := c.fetchFromServer(actx, account, name, endpoint, lastCheck, &messagesIn); err != nil {
					failures.Add(1)
					c.logger.Error("fetch from mail server failed",
						slog.String("account", account.Name),
						slog.String("server", name),
						slog.String("error", err.Error()))
				}
			}(name, endpoint)
		}
		tasks.Wait()

		timedOut := actx.Err() == context.DeadlineExceeded
		cancel()
		if timedOut {
			c.events.FetchTimeout(account.Name)
		}

		// Advance the watermark only when every server pass completed;
		// a partial pass must not hide the messages it missed.
		if failures.Load() == 0 && !timedOut {
			if err := c.store.Properties.Put("last_fetch/"+account.Name, checkTime); err != nil {
				c.logger.Error("persist fetch watermark",
					slog.String("account", account.Name), slog.String("error", err.Error()))
			}
		}

		if count := messagesIn.Load() - before; count > 0 {
			c.events.NewMail(account.Name, int(count))
		}
	}

	return int(messagesIn.Load())
}

// fetchFromServer drains one server's inventory for one account,
// downloading and storing every listed message. Inventory is processed
// in timestamp order; a short page ends the stream.
func (c *Client) fetchFromServer(ctx context.Context, account wallet.Account, name, endpoint string, since time.Time, messagesIn *atomic.Int64) error {
	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	watermark := since.Unix()
	for {
		items, err := conn.FetchInventory(ctx, account.Address, watermark, mailrpc.MaxInventory)
		if err != nil {
			return err
		}

		for _, item := range items {
			ciphertext, err := conn.FetchMessage(ctx, item.ID)
			if err != nil {
				return err
			}
			if newMail := c.storeFetchedMessage(account, name, endpoint, ciphertext); newMail {
				messagesIn.Add(1)
			}
			if item.Timestamp > watermark {
				watermark = item.Timestamp
			}
		}

		if len(items) < mailrpc.MaxInventory {
			return nil
		}
	}
}

// storeFetchedMessage decrypts a downloaded message, merges it into the
// archive and index, and files it in the inbox when it is genuinely new.
// Messages we sent ourselves count as new when a server first hands them
// back to us. Reports whether the message was new.
func (c *Client) storeFetchedMessage(account wallet.Account, serverName, endpoint string, ciphertext models.Message) bool {
	id := ciphertext.ID()

	plaintext, err := c.wallet.MailOpenByAddress(account.Address, ciphertext)
	if err != nil {
		// Not decryptable for us; leave it on the server and move on.
		c.logger.Warn("could not decrypt fetched message",
			slog.String("id", id.String()), slog.String("account", account.Name),
			slog.String("error", err.Error()))
		return false
	}

	header := models.EmailHeader{
		ID:        id,
		Recipient: account.Name,
		Timestamp: time.Unix(plaintext.Timestamp, 0).UTC(),
	}

	switch plaintext.Type {
	case models.TypeEmail:
		var email models.SignedEmail
		if err := plaintext.DecodePayload(&email); err != nil {
			c.logger.Warn("malformed email payload", slog.String("id", id.String()))
			return false
		}
		header.Sender = c.senderLabel(email.From, email.Signature, email.SigningDigest())
		header.Subject = email.Subject

	case models.TypeTransactionNotice:
		var notice models.TransactionNotice
		if err := plaintext.DecodePayload(&notice); err != nil {
			c.logger.Warn("malformed transaction notice", slog.String("id", id.String()))
			return false
		}
		header.Sender = c.senderLabel(notice.From, notice.Signature, notice.SigningDigest())
		header.Subject = "Transaction Notification"
		if err := c.wallet.ScanTransaction(notice.TransactionID, true); err != nil {
			c.logger.Warn("transaction scan failed",
				slog.String("transaction", notice.TransactionID), slog.String("error", err.Error()))
		}
		if c.NewTransactionNotifier != nil {
			c.NewTransactionNotifier(notice)
		}
	}

	// Two servers can hand us the same message concurrently; the merge
	// below must read and write the archive entry atomically.
	c.archiveMu.Lock()
	defer c.archiveMu.Unlock()

	newMail := false
	rec, exists := c.store.Archive.GetOptional(id)
	if !exists {
		rec = models.ArchiveRecord{
			ID:               id,
			Status:           models.StatusReceived,
			Sender:           header.Sender,
			Recipient:        header.Recipient,
			RecipientAddress: account.Address,
			Content:          ciphertext,
		}
		newMail = true
	} else if rec.Status == models.StatusAccepted {
		// We sent this message, but it is still newly received mail.
		rec.Status = models.StatusReceived
		newMail = true
	}

	if rec.Servers == nil {
		rec.Servers = models.ServerList{}
	}
	rec.Servers[serverName] = endpoint

	if err := c.store.Archive.Put(id, rec); err != nil {
		c.logger.Error("store fetched message",
			slog.String("id", id.String()), slog.String("error", err.Error()))
		return false
	}
	c.index.Insert(models.IndexFromHeader(header))

	if newMail {
		if err := c.store.Inbox.Put(id, header); err != nil {
			c.logger.Error("store inbox header",
				slog.String("id", id.String()), slog.String("error", err.Error()))
		}
	}
	return newMail
}

// senderLabel verifies a payload signature and names its signing key.
// Any verification or lookup failure yields the INVALID SIGNATURE label;
// a bad signature never blocks delivery.
func (c *Client) senderLabel(from models.PublicKey, signature []byte, digest models.MessageID) string {
	if len(signature) != ed25519.SignatureSize ||
		!ed25519.Verify(ed25519.PublicKey(from[:]), digest[:], signature) {
		return "INVALID SIGNATURE"
	}
	label, err := c.wallet.KeyLabel(from)
	if err != nil {
		return "INVALID SIGNATURE"
	}
	return label
}
