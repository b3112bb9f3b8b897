// Package wallet holds the account keys the mail client signs, encrypts
// and decrypts with.
package wallet

import (
	"time"

	"github.com/chainmail-net/chainmail/internal/models"
)

// Account is one local account the wallet holds keys for.
type Account struct {
	Name             string
	Address          models.Address
	OwnerKey         models.PublicKey
	ActiveKey        models.PublicKey
	RegistrationDate time.Time
}

// Wallet is the contract the mail client depends on. Message creation
// and encryption live here so the pipeline never touches private keys.
type Wallet interface {
	IsOpen() bool
	IsUnlocked() bool

	// MailCreate builds a signed plaintext email message from one of our
	// accounts.
	MailCreate(from, subject, body string, replyTo models.MessageID) (models.Message, error)

	// MailEncrypt seals a plaintext message to the recipient's active key.
	MailEncrypt(activeKey models.PublicKey, plaintext models.Message) (models.Message, error)

	// MailOpenByKey decrypts an outgoing message we encrypted ourselves,
	// identified by the recipient key it was sealed to.
	MailOpenByKey(recipientKey models.PublicKey, ciphertext models.Message) (models.Message, error)

	// MailOpenByAddress decrypts an inbound message addressed to one of
	// our accounts.
	MailOpenByAddress(addr models.Address, ciphertext models.Message) (models.Message, error)

	// KeyLabel names the account a public key belongs to. Unknown keys
	// are an error; callers substitute "INVALID SIGNATURE".
	KeyLabel(key models.PublicKey) (string, error)

	// ListMyAccounts lists every local account.
	ListMyAccounts() []Account

	// ScanTransaction asks the wallet to look up a transaction mentioned
	// in a received notice.
	ScanTransaction(transactionID string, unconditional bool) error
}
