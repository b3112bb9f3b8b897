package models

import (
	"fmt"
	"time"
)

// MailStatus tracks a message through the outgoing pipeline. The order of
// the constants is load-bearing: cancellation is allowed only while the
// status is at or before StatusProofOfWork, and the transmit timeout only
// fails records at or past StatusTransmitting.
type MailStatus int32

const (
	StatusSubmitted MailStatus = iota
	StatusProofOfWork
	StatusTransmitting
	StatusAccepted
	StatusFailed
	StatusCanceled
	StatusReceived
)

var statusNames = map[MailStatus]string{
	StatusSubmitted:    "submitted",
	StatusProofOfWork:  "proof_of_work",
	StatusTransmitting: "transmitting",
	StatusAccepted:     "accepted",
	StatusFailed:       "failed",
	StatusCanceled:     "canceled",
	StatusReceived:     "received",
}

// String returns the wire name of the status.
func (s MailStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("mail_status(%d)", int32(s))
}

// ParseMailStatus parses a wire status name.
func ParseMailStatus(name string) (MailStatus, error) {
	for status, n := range statusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("unknown mail status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s MailStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *MailStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseMailStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ServerList maps mail server account names to their host:port endpoints.
type ServerList map[string]string

// Clone returns a copy of the list.
func (l ServerList) Clone() ServerList {
	if l == nil {
		return nil
	}
	out := make(ServerList, len(l))
	for name, endpoint := range l {
		out[name] = endpoint
	}
	return out
}

// ProcessingRecord is one in-flight outgoing message. ID is the stable
// identifier assigned at submission (the initial content digest); Content
// keeps mutating its nonce and timestamp while mining, so Content.ID()
// diverges from ID as soon as the miner touches it.
type ProcessingRecord struct {
	ID            MessageID  `json:"id"`
	Status        MailStatus `json:"status"`
	Sender        string     `json:"sender"`
	Recipient     string     `json:"recipient"`
	RecipientKey  PublicKey  `json:"recipient_key"`
	Content       Message    `json:"content"`
	Servers       ServerList `json:"mail_servers,omitempty"`
	PowTarget     MessageID  `json:"proof_of_work_target"`
	FailureReason string     `json:"failure_reason,omitempty"`
}

// NewProcessingRecord builds a submission-time record around content.
func NewProcessingRecord(sender, recipient string, recipientKey PublicKey, content Message) ProcessingRecord {
	return ProcessingRecord{
		ID:           content.ID(),
		Status:       StatusSubmitted,
		Sender:       sender,
		Recipient:    recipient,
		RecipientKey: recipientKey,
		Content:      content,
	}
}

// ArchiveRecord is one durably stored message, sent (StatusAccepted) or
// received (StatusReceived). ID is the final content digest.
type ArchiveRecord struct {
	ID               MessageID  `json:"id"`
	Status           MailStatus `json:"status"`
	Sender           string     `json:"sender"`
	Recipient        string     `json:"recipient"`
	RecipientAddress Address    `json:"recipient_address"`
	Content          Message    `json:"content"`
	Servers          ServerList `json:"mail_servers,omitempty"`
}

// ArchiveFromProcessing converts a finished processing record into its
// archive form, rekeyed under the final content digest.
func ArchiveFromProcessing(rec ProcessingRecord) ArchiveRecord {
	return ArchiveRecord{
		ID:               rec.Content.ID(),
		Status:           StatusAccepted,
		Sender:           rec.Sender,
		Recipient:        rec.Recipient,
		RecipientAddress: AddressFromKey(rec.RecipientKey),
		Content:          rec.Content,
		Servers:          rec.Servers.Clone(),
	}
}

// EmailHeader is the summary a user sees in listings and the inbox.
type EmailHeader struct {
	ID        MessageID `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject,omitempty"`
}

// HeaderFromProcessing summarizes an in-flight record under its stable ID.
func HeaderFromProcessing(rec ProcessingRecord) EmailHeader {
	header := EmailHeader{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		Timestamp: time.Unix(rec.Content.Timestamp, 0).UTC(),
	}
	if rec.Content.Type == TypeEmail {
		var email SignedEmail
		if err := rec.Content.DecodePayload(&email); err == nil {
			header.Subject = email.Subject
		}
	}
	return header
}

// HeaderFromArchive summarizes an archived record.
func HeaderFromArchive(rec ArchiveRecord) EmailHeader {
	header := EmailHeader{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		Timestamp: time.Unix(rec.Content.Timestamp, 0).UTC(),
	}
	if rec.Content.Type == TypeEmail {
		var email SignedEmail
		if err := rec.Content.DecodePayload(&email); err == nil {
			header.Subject = email.Subject
		}
	}
	return header
}

// EmailRecord is the full view of a message returned by lookups: header,
// content (decrypted when possible), the servers known to hold it, and
// the failure reason when the pipeline gave up on it.
type EmailRecord struct {
	Header        EmailHeader `json:"header"`
	Content       Message     `json:"content"`
	Servers       ServerList  `json:"mail_servers,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
}

// IndexRecord is one row of the in-memory secondary index over the
// archive.
type IndexRecord struct {
	ID        MessageID
	Sender    string
	Recipient string
	Timestamp time.Time
}

// IndexFromHeader converts a header into its index row.
func IndexFromHeader(header EmailHeader) IndexRecord {
	return IndexRecord{
		ID:        header.ID,
		Sender:    header.Sender,
		Recipient: header.Recipient,
		Timestamp: header.Timestamp,
	}
}

// IndexFromArchive converts an archive record into its index row.
func IndexFromArchive(rec ArchiveRecord) IndexRecord {
	return IndexRecord{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		Timestamp: time.Unix(rec.Content.Timestamp, 0).UTC(),
	}
}

// MessageStatus pairs a status with a message ID for store listings.
type MessageStatus struct {
	Status MailStatus `json:"status"`
	ID     MessageID  `json:"id"`
}
