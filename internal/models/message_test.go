package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageID_ChangesWithNonce(t *testing.T) {
	// Arrange
	msg := Message{
		Type:      TypeEmail,
		Timestamp: 1700000000,
		Payload:   []byte("hello"),
	}

	// Act
	before := msg.ID()
	msg.Nonce++
	after := msg.ID()

	// Assert
	assert.NotEqual(t, before, after)
	msg.Nonce--
	assert.Equal(t, before, msg.ID(), "id must be deterministic")
}

func TestMessageID_ChangesWithTimestamp(t *testing.T) {
	msg := Message{Type: TypeEmail, Timestamp: 1700000000}
	before := msg.ID()
	msg.Timestamp++
	assert.NotEqual(t, before, msg.ID())
}

func TestMessageID_HexRoundTrip(t *testing.T) {
	msg := Message{Type: TypeEncrypted, Payload: []byte("x")}
	id := msg.ID()

	parsed, err := ParseMessageID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseMessageID_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"short", "abcdef"},
		{"not hex", "zz0ffffffdeadbeeffffffffffffffffffffffff"},
		{"too long", "000ffffffdeadbeeffffffffffffffffffffffffff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessageID(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestMessageID_Compare(t *testing.T) {
	low, err := ParseMessageID("0000000000000000000000000000000000000001")
	require.NoError(t, err)
	high, err := ParseMessageID("000ffffffdeadbeeffffffffffffffffffffffff")
	require.NoError(t, err)

	assert.Equal(t, -1, low.Compare(high))
	assert.Equal(t, 1, high.Compare(low))
	assert.Equal(t, 0, low.Compare(low))
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	var key PublicKey
	key[0] = 7
	msg := Message{
		Type:      TypeEncrypted,
		Timestamp: 1700000001,
		Nonce:     42,
		Recipient: key,
		Payload:   []byte{1, 2, 3},
	}

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, msg, decoded)
	assert.Equal(t, msg.ID(), decoded.ID(), "wire round trip must preserve identity")
}

func TestMailStatus_Ordering(t *testing.T) {
	// Cancellation boundary and the transmit watchdog both lean on the
	// numeric order of the states.
	assert.Less(t, StatusSubmitted, StatusProofOfWork)
	assert.Less(t, StatusProofOfWork, StatusTransmitting)
	assert.Less(t, StatusTransmitting, StatusAccepted)
	assert.Less(t, StatusAccepted, StatusFailed)
}

func TestMailStatus_TextRoundTrip(t *testing.T) {
	for _, status := range []MailStatus{
		StatusSubmitted, StatusProofOfWork, StatusTransmitting,
		StatusAccepted, StatusFailed, StatusCanceled, StatusReceived,
	} {
		parsed, err := ParseMailStatus(status.String())
		require.NoError(t, err)
		assert.Equal(t, status, parsed)
	}

	_, err := ParseMailStatus("exploded")
	assert.Error(t, err)
}

func TestHeaderFromArchive_ReadsEmailSubject(t *testing.T) {
	email := SignedEmail{Subject: "greetings", Body: "hello there"}
	msg, err := NewEmailMessage(&email, time.Unix(1700000000, 0))
	require.NoError(t, err)

	rec := ArchiveRecord{
		ID:        msg.ID(),
		Status:    StatusReceived,
		Sender:    "alice",
		Recipient: "bob",
		Content:   msg,
	}

	header := HeaderFromArchive(rec)
	assert.Equal(t, "greetings", header.Subject)
	assert.Equal(t, "alice", header.Sender)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), header.Timestamp)
}

func TestHeaderFromArchive_EncryptedContentHasNoSubject(t *testing.T) {
	rec := ArchiveRecord{
		Status:    StatusReceived,
		Recipient: "bob",
		Content:   Message{Type: TypeEncrypted, Payload: []byte("opaque")},
	}
	assert.Empty(t, HeaderFromArchive(rec).Subject)
}

func TestArchiveFromProcessing_RekeysUnderFinalID(t *testing.T) {
	var key PublicKey
	key[1] = 9
	content := Message{Type: TypeEncrypted, Timestamp: 1700000000, Payload: []byte("c")}
	rec := NewProcessingRecord("alice", "bob", key, content)

	// Mining mutates the nonce, so the archive key diverges from the
	// stable submission id.
	rec.Content.Nonce = 99

	archived := ArchiveFromProcessing(rec)
	assert.Equal(t, rec.Content.ID(), archived.ID)
	assert.NotEqual(t, rec.ID, archived.ID)
	assert.Equal(t, StatusAccepted, archived.Status)
	assert.Equal(t, AddressFromKey(key), archived.RecipientAddress)
}

func TestServerList_Clone(t *testing.T) {
	original := ServerList{"mail-a": "127.0.0.1:1"}
	clone := original.Clone()
	clone["mail-b"] = "127.0.0.1:2"

	assert.Len(t, original, 1)
	assert.Len(t, clone, 2)
	assert.Nil(t, ServerList(nil).Clone())
}
