package store

import (
	"encoding/json"
	"fmt"

	"github.com/chainmail-net/chainmail/internal/models"
)

// processingRow is the persisted shape of an in-flight outgoing message.
// The full record travels as JSON; status and recipient are broken out for
// inspection with ordinary sqlite tooling.
type processingRow struct {
	ID        []byte `gorm:"primaryKey;size:20"`
	Status    string `gorm:"not null;size:32"`
	Recipient string `gorm:"size:255;index"`
	Record    []byte `gorm:"not null"`
}

// TableName returns the table name for processingRow
func (processingRow) TableName() string {
	return "processing"
}

func newProcessingRow(id models.MessageID, rec models.ProcessingRecord) (processingRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return processingRow{}, fmt.Errorf("encode processing record %s: %w", id, err)
	}
	return processingRow{
		ID:        append([]byte(nil), id[:]...),
		Status:    rec.Status.String(),
		Recipient: rec.Recipient,
		Record:    data,
	}, nil
}

func (r processingRow) decode() (models.ProcessingRecord, error) {
	var rec models.ProcessingRecord
	if err := json.Unmarshal(r.Record, &rec); err != nil {
		return rec, fmt.Errorf("decode processing record: %w", err)
	}
	return rec, nil
}

// archiveRow is the persisted shape of a durably stored message.
type archiveRow struct {
	ID        []byte `gorm:"primaryKey;size:20"`
	Status    string `gorm:"not null;size:32"`
	Sender    string `gorm:"size:255;index"`
	Recipient string `gorm:"size:255;index"`
	Record    []byte `gorm:"not null"`
}

// TableName returns the table name for archiveRow
func (archiveRow) TableName() string {
	return "archive"
}

func newArchiveRow(id models.MessageID, rec models.ArchiveRecord) (archiveRow, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return archiveRow{}, fmt.Errorf("encode archive record %s: %w", id, err)
	}
	return archiveRow{
		ID:        append([]byte(nil), id[:]...),
		Status:    rec.Status.String(),
		Sender:    rec.Sender,
		Recipient: rec.Recipient,
		Record:    data,
	}, nil
}

func (r archiveRow) decode() (models.ArchiveRecord, error) {
	var rec models.ArchiveRecord
	if err := json.Unmarshal(r.Record, &rec); err != nil {
		return rec, fmt.Errorf("decode archive record: %w", err)
	}
	return rec, nil
}

// inboxRow is the persisted shape of an unread message header.
type inboxRow struct {
	ID     []byte `gorm:"primaryKey;size:20"`
	Header []byte `gorm:"not null"`
}

// TableName returns the table name for inboxRow
func (inboxRow) TableName() string {
	return "inbox"
}

func newInboxRow(id models.MessageID, header models.EmailHeader) (inboxRow, error) {
	data, err := json.Marshal(header)
	if err != nil {
		return inboxRow{}, fmt.Errorf("encode inbox header %s: %w", id, err)
	}
	return inboxRow{ID: append([]byte(nil), id[:]...), Header: data}, nil
}

func (r inboxRow) decode() (models.EmailHeader, error) {
	var header models.EmailHeader
	if err := json.Unmarshal(r.Header, &header); err != nil {
		return header, fmt.Errorf("decode inbox header: %w", err)
	}
	return header, nil
}

// propertyRow is one key/value pair of client metadata.
type propertyRow struct {
	Key   string `gorm:"primaryKey;size:255"`
	Value []byte `gorm:"not null"`
}

// TableName returns the table name for propertyRow
func (propertyRow) TableName() string {
	return "properties"
}

func messageIDFromBytes(raw []byte) (models.MessageID, error) {
	var id models.MessageID
	if len(raw) != models.MessageIDSize {
		return id, fmt.Errorf("malformed store key: %d bytes", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}
