package models

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// MessageIDSize is the size in bytes of a message digest (160 bits).
const MessageIDSize = 20

// MessageID is the content-addressed digest of a message's serialized
// form, including its nonce. It changes whenever the nonce changes.
type MessageID [MessageIDSize]byte

// ParseMessageID parses a hex-encoded message ID.
func ParseMessageID(s string) (MessageID, error) {
	var id MessageID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid message id %q: %w", s, err)
	}
	if len(raw) != MessageIDSize {
		return id, fmt.Errorf("invalid message id %q: expected %d bytes, got %d", s, MessageIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String returns the hex encoding of the ID.
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is all zeroes.
func (id MessageID) IsZero() bool {
	return id == MessageID{}
}

// Compare orders two IDs as 160-bit big-endian integers.
func (id MessageID) Compare(other MessageID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id MessageID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *MessageID) UnmarshalText(text []byte) error {
	parsed, err := ParseMessageID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PublicKeySize is the size in bytes of an account public key.
const PublicKeySize = 32

// PublicKey identifies an account key (owner or active).
type PublicKey [PublicKeySize]byte

// ParsePublicKey parses a hex-encoded public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	if len(raw) != PublicKeySize {
		return key, fmt.Errorf("invalid public key %q: expected %d bytes, got %d", s, PublicKeySize, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// String returns the hex encoding of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// IsZero reports whether the key is all zeroes.
func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Address is the 160-bit hash of an account's owner public key. Mail on
// servers is addressed to it rather than to the key itself.
type Address [MessageIDSize]byte

// AddressFromKey derives the address of a public key.
func AddressFromKey(key PublicKey) Address {
	var addr Address
	digest := Digest(key[:])
	copy(addr[:], digest[:])
	return addr
}

// ParseAddress parses a hex-encoded address.
func ParseAddress(s string) (Address, error) {
	var addr Address
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(raw) != MessageIDSize {
		return addr, fmt.Errorf("invalid address %q: expected %d bytes, got %d", s, MessageIDSize, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// String returns the hex encoding of the address.
func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Digest computes the 160-bit blake3 digest of data.
func Digest(data []byte) MessageID {
	var id MessageID
	hasher := blake3.New()
	_, _ = hasher.Write(data)
	digest := hasher.Digest()
	_, _ = digest.Read(id[:])
	return id
}

// MessageType discriminates message payloads.
type MessageType int32

const (
	TypeMarketNotice MessageType = iota
	TypeEmail
	TypeTransactionNotice
	TypeEncrypted
)

// String returns the wire name of the message type.
func (t MessageType) String() string {
	switch t {
	case TypeMarketNotice:
		return "market_notice"
	case TypeEmail:
		return "email"
	case TypeTransactionNotice:
		return "transaction_notice"
	case TypeEncrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("message_type(%d)", int32(t))
	}
}

// Message is the typed envelope carried between clients and mail servers.
// Payload is opaque until decrypted. The content ID covers every field,
// so mutating the nonce or timestamp yields a new identity.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp int64       `json:"timestamp"`
	Nonce     uint64      `json:"nonce"`
	Recipient PublicKey   `json:"recipient"`
	Payload   []byte      `json:"data"`
}

// Serialize renders the message in its canonical binary form, the input
// to the content digest.
func (m *Message) Serialize() []byte {
	buf := make([]byte, 0, 4+8+8+PublicKeySize+len(m.Payload))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.Type))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.Timestamp))
	buf = binary.LittleEndian.AppendUint64(buf, m.Nonce)
	buf = append(buf, m.Recipient[:]...)
	buf = append(buf, m.Payload...)
	return buf
}

// ID computes the content digest of the message.
func (m *Message) ID() MessageID {
	return Digest(m.Serialize())
}

// SignedEmail is the plaintext payload of a TypeEmail message.
type SignedEmail struct {
	From      PublicKey `json:"from"`
	Signature []byte    `json:"signature"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	ReplyTo   MessageID `json:"reply_to,omitempty"`
}

// SigningDigest is the digest an email's signature covers.
func (e *SignedEmail) SigningDigest() MessageID {
	buf := make([]byte, 0, len(e.Subject)+len(e.Body)+MessageIDSize+2)
	buf = append(buf, e.Subject...)
	buf = append(buf, 0)
	buf = append(buf, e.Body...)
	buf = append(buf, 0)
	buf = append(buf, e.ReplyTo[:]...)
	return Digest(buf)
}

// TransactionNotice is the plaintext payload of a TypeTransactionNotice
// message: a counterparty telling us about a transaction that concerns
// one of our accounts.
type TransactionNotice struct {
	From          PublicKey `json:"from"`
	Signature     []byte    `json:"signature"`
	TransactionID string    `json:"transaction_id"`
	Memo          string    `json:"memo,omitempty"`
}

// SigningDigest is the digest a notice's signature covers.
func (n *TransactionNotice) SigningDigest() MessageID {
	buf := make([]byte, 0, len(n.TransactionID)+len(n.Memo)+1)
	buf = append(buf, n.TransactionID...)
	buf = append(buf, 0)
	buf = append(buf, n.Memo...)
	return Digest(buf)
}

// DecodePayload unmarshals the message payload into out. The message must
// already be plaintext.
func (m *Message) DecodePayload(out any) error {
	if m.Type == TypeEncrypted {
		return fmt.Errorf("cannot decode payload of an encrypted message")
	}
	if err := json.Unmarshal(m.Payload, out); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}

// NewEmailMessage assembles a TypeEmail message around a signed email.
func NewEmailMessage(email *SignedEmail, now time.Time) (Message, error) {
	payload, err := json.Marshal(email)
	if err != nil {
		return Message{}, fmt.Errorf("encode email payload: %w", err)
	}
	return Message{
		Type:      TypeEmail,
		Timestamp: now.Unix(),
		Payload:   payload,
	}, nil
}
