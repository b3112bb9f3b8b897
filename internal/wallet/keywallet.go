package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
	"golang.org/x/crypto/nacl/box"
)

const (
	ephemeralKeySize = 32
	boxNonceSize     = 24
)

type keyAccount struct {
	Account
	signKey ed25519.PrivateKey
	encPriv [ephemeralKeySize]byte
}

// KeyWallet is an in-process Wallet keeping all keys in memory. Owner
// keys are ed25519 signing keys; active keys are curve25519 encryption
// keys. Sealing records the ephemeral secret so the sender can reopen
// its own sent mail later.
type KeyWallet struct {
	mu       sync.RWMutex
	open     bool
	unlocked bool
	accounts map[string]*keyAccount

	// ephemeral secrets by ephemeral public key, kept so sent mail stays
	// readable to its author
	sent map[[ephemeralKeySize]byte]sentSecret

	scanned []string
}

type sentSecret struct {
	ephPriv [ephemeralKeySize]byte
	peerPub [ephemeralKeySize]byte
}

// NewKeyWallet creates an open, unlocked wallet with no accounts.
func NewKeyWallet() *KeyWallet {
	return &KeyWallet{
		open:     true,
		unlocked: true,
		accounts: make(map[string]*keyAccount),
		sent:     make(map[[ephemeralKeySize]byte]sentSecret),
	}
}

// IsOpen reports whether the wallet file is open.
func (w *KeyWallet) IsOpen() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.open
}

// IsUnlocked reports whether signing keys are available.
func (w *KeyWallet) IsUnlocked() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.unlocked
}

// Lock withdraws access to the private keys.
func (w *KeyWallet) Lock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unlocked = false
}

// Unlock restores access to the private keys.
func (w *KeyWallet) Unlock() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.unlocked = true
}

// CreateAccount generates keys for a new named account and returns its
// public view.
func (w *KeyWallet) CreateAccount(name string, registered time.Time) (Account, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Account{}, fmt.Errorf("generate signing key: %w", err)
	}
	encPub, encPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Account{}, fmt.Errorf("generate encryption key: %w", err)
	}

	var owner, active models.PublicKey
	copy(owner[:], signPub)
	copy(active[:], encPub[:])

	account := &keyAccount{
		Account: Account{
			Name:             name,
			Address:          models.AddressFromKey(owner),
			OwnerKey:         owner,
			ActiveKey:        active,
			RegistrationDate: registered,
		},
		signKey: signPriv,
		encPriv: *encPriv,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.accounts[name]; exists {
		return Account{}, fmt.Errorf("account %q already exists", name)
	}
	w.accounts[name] = account
	return account.Account, nil
}

// MailCreate builds a signed plaintext email from one of our accounts.
func (w *KeyWallet) MailCreate(from, subject, body string, replyTo models.MessageID) (models.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.open || !w.unlocked {
		return models.Message{}, apperrors.ErrWalletLocked
	}
	account, ok := w.accounts[from]
	if !ok {
		return models.Message{}, fmt.Errorf("%w: %s", apperrors.ErrAccountNotFound, from)
	}

	email := models.SignedEmail{
		From:    account.OwnerKey,
		Subject: subject,
		Body:    body,
		ReplyTo: replyTo,
	}
	digest := email.SigningDigest()
	email.Signature = ed25519.Sign(account.signKey, digest[:])

	return models.NewEmailMessage(&email, time.Now().UTC())
}

// MailEncrypt seals plaintext to the recipient's active key under a fresh
// ephemeral key.
func (w *KeyWallet) MailEncrypt(activeKey models.PublicKey, plaintext models.Message) (models.Message, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.open || !w.unlocked {
		return models.Message{}, apperrors.ErrWalletLocked
	}

	inner, err := json.Marshal(plaintext)
	if err != nil {
		return models.Message{}, fmt.Errorf("encode plaintext message: %w", err)
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return models.Message{}, fmt.Errorf("generate ephemeral key: %w", err)
	}
	var nonce [boxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return models.Message{}, fmt.Errorf("generate nonce: %w", err)
	}

	peer := [ephemeralKeySize]byte(activeKey)
	sealed := make([]byte, 0, ephemeralKeySize+boxNonceSize+len(inner)+box.Overhead)
	sealed = append(sealed, ephPub[:]...)
	sealed = append(sealed, nonce[:]...)
	sealed = box.Seal(sealed, inner, &nonce, &peer, ephPriv)

	w.sent[*ephPub] = sentSecret{ephPriv: *ephPriv, peerPub: peer}

	return models.Message{
		Type:      models.TypeEncrypted,
		Timestamp: plaintext.Timestamp,
		Recipient: plaintext.Recipient,
		Payload:   sealed,
	}, nil
}

// MailOpenByKey reopens a message this wallet sealed itself.
func (w *KeyWallet) MailOpenByKey(recipientKey models.PublicKey, ciphertext models.Message) (models.Message, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.open {
		return models.Message{}, apperrors.ErrWalletLocked
	}

	ephPub, nonce, sealed, err := splitSealed(ciphertext.Payload)
	if err != nil {
		return models.Message{}, err
	}
	secret, ok := w.sent[ephPub]
	if !ok {
		return models.Message{}, fmt.Errorf("no ephemeral key for message %s", ciphertext.ID())
	}
	inner, ok := box.Open(nil, sealed, &nonce, &secret.peerPub, &secret.ephPriv)
	if !ok {
		return models.Message{}, fmt.Errorf("cannot decrypt message %s", ciphertext.ID())
	}
	return decodeInner(inner)
}

// MailOpenByAddress decrypts an inbound message addressed to one of our
// accounts.
func (w *KeyWallet) MailOpenByAddress(addr models.Address, ciphertext models.Message) (models.Message, error) {
	if ciphertext.Type != models.TypeEncrypted {
		return ciphertext, nil
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.open {
		return models.Message{}, apperrors.ErrWalletLocked
	}

	var account *keyAccount
	for _, candidate := range w.accounts {
		if candidate.Address == addr {
			account = candidate
			break
		}
	}
	if account == nil {
		return models.Message{}, fmt.Errorf("%w: no account with address %s", apperrors.ErrAccountNotFound, addr)
	}

	ephPub, nonce, sealed, err := splitSealed(ciphertext.Payload)
	if err != nil {
		return models.Message{}, err
	}
	inner, ok := box.Open(nil, sealed, &nonce, &ephPub, &account.encPriv)
	if !ok {
		return models.Message{}, fmt.Errorf("cannot decrypt message %s", ciphertext.ID())
	}
	return decodeInner(inner)
}

// KeyLabel names the account a public key belongs to.
func (w *KeyWallet) KeyLabel(key models.PublicKey) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, account := range w.accounts {
		if account.OwnerKey == key {
			return account.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no label for key %s", apperrors.ErrNotFound, key)
}

// RegisterKeyLabel teaches the wallet a label for a foreign key, the way
// a contact list would.
func (w *KeyWallet) RegisterKeyLabel(key models.PublicKey, label string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.accounts["contact/"+label] = &keyAccount{
		Account: Account{Name: label, OwnerKey: key, Address: models.AddressFromKey(key)},
	}
}

// ListMyAccounts lists every account holding a signing key, sorted by
// name for stable iteration.
func (w *KeyWallet) ListMyAccounts() []Account {
	w.mu.RLock()
	defer w.mu.RUnlock()
	accounts := make([]Account, 0, len(w.accounts))
	for _, account := range w.accounts {
		if account.signKey == nil {
			continue
		}
		accounts = append(accounts, account.Account)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].Name < accounts[j].Name })
	return accounts
}

// ScanTransaction records that a transaction from a received notice was
// looked at. The stub keeps the ids so callers can assert on them.
func (w *KeyWallet) ScanTransaction(transactionID string, unconditional bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.scanned = append(w.scanned, transactionID)
	return nil
}

// ScannedTransactions returns the ids passed to ScanTransaction.
func (w *KeyWallet) ScannedTransactions() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.scanned...)
}

func splitSealed(payload []byte) ([ephemeralKeySize]byte, [boxNonceSize]byte, []byte, error) {
	var ephPub [ephemeralKeySize]byte
	var nonce [boxNonceSize]byte
	if len(payload) < ephemeralKeySize+boxNonceSize+box.Overhead {
		return ephPub, nonce, nil, fmt.Errorf("sealed payload too short: %d bytes", len(payload))
	}
	copy(ephPub[:], payload[:ephemeralKeySize])
	copy(nonce[:], payload[ephemeralKeySize:ephemeralKeySize+boxNonceSize])
	return ephPub, nonce, payload[ephemeralKeySize+boxNonceSize:], nil
}

func decodeInner(inner []byte) (models.Message, error) {
	var plaintext models.Message
	if err := json.Unmarshal(inner, &plaintext); err != nil {
		return models.Message{}, fmt.Errorf("decode decrypted message: %w", err)
	}
	return plaintext, nil
}
