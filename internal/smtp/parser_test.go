package smtp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEmail_PlainText(t *testing.T) {
	raw := strings.Join([]string{
		"From: Alice <alice@chainmail.local>",
		"To: bob@chainmail.local",
		"Subject: lunch?",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"noon at the usual place",
	}, "\r\n")

	parsed, err := ParseEmail(strings.NewReader(raw))
	require.NoError(t, err)

	assert.Equal(t, "lunch?", parsed.Subject)
	assert.Contains(t, parsed.BodyText, "noon at the usual place")
	assert.Contains(t, parsed.SenderEmail, "alice@chainmail.local")
}

func TestParseEmail_HTMLOnlyKeepsBody(t *testing.T) {
	raw := strings.Join([]string{
		"From: alice@chainmail.local",
		"Subject: styled",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>hello</p>",
	}, "\r\n")

	parsed, err := ParseEmail(strings.NewReader(raw))
	require.NoError(t, err)
	assert.NotEmpty(t, parsed.BodyText)
}

func TestParseGatewayAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{"plain", "alice@chainmail.local", "alice", false},
		{"angle brackets", "<alice@chainmail.local>", "alice", false},
		{"case folded", "Alice@ChainMail.Local", "alice", false},
		{"wrong domain", "alice@example.com", "", true},
		{"no domain", "alice", "", true},
		{"empty local part", "@chainmail.local", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account, _, err := parseGatewayAddress(tt.address, "chainmail.local")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, account)
		})
	}
}
