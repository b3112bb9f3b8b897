package smtp

import (
	"fmt"
	"io"
	"strings"

	"github.com/jhillyerd/enmime"
)

// ParsedEmail is the part of a MIME submission the pipeline carries:
// plain subject and body. Attachments and HTML alternatives are dropped
// at the gateway.
type ParsedEmail struct {
	SenderEmail string
	Subject     string
	BodyText    string
}

// ParseEmail parses a MIME message from an io.Reader.
func ParseEmail(r io.Reader) (*ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	parsed := &ParsedEmail{
		SenderEmail: env.GetHeader("From"),
		Subject:     env.GetHeader("Subject"),
		BodyText:    env.Text,
	}
	if parsed.BodyText == "" && env.HTML != "" {
		// Text-less HTML mail still needs a body; enmime keeps the raw
		// HTML, which is better than losing the message.
		parsed.BodyText = env.HTML
	}
	return parsed, nil
}

// parseGatewayAddress splits local@domain and checks the domain against
// the gateway's. Returns the local part as the account name.
func parseGatewayAddress(address, gatewayDomain string) (string, string, error) {
	address = strings.Trim(address, "<>")
	local, domain, found := strings.Cut(address, "@")
	if !found || local == "" || domain == "" {
		return "", "", fmt.Errorf("malformed address %q", address)
	}
	if !strings.EqualFold(domain, gatewayDomain) {
		return "", "", fmt.Errorf("address %q is not under gateway domain %q", address, gatewayDomain)
	}
	return strings.ToLower(local), strings.ToLower(domain), nil
}
