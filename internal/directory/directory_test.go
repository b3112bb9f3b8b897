package directory

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainmail-net/chainmail/internal/models"
)

type failingChain struct{}

func (failingChain) GetAccountRecord(name string) (*AccountRecord, error) {
	return nil, errors.New("chain unavailable")
}
func (failingChain) Now() time.Time { return time.Unix(1700000000, 0) }

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func defaults() models.ServerList {
	return models.ServerList{"default-server": "10.0.0.9:3000"}
}

func serverAccount(name, endpoint string) *AccountRecord {
	return &AccountRecord{
		Name:       name,
		PublicData: map[string]any{"mail_server_endpoint": endpoint},
	}
}

func TestResolver_UnregisteredRecipientGetsDefaults(t *testing.T) {
	chain := NewStaticChainDB()
	resolver := NewResolver(chain, defaults(), testLogger())

	servers := resolver.ServersForRecipient("nobody")
	assert.Equal(t, defaults(), servers)
}

func TestResolver_ChainErrorFallsBackToDefaults(t *testing.T) {
	resolver := NewResolver(failingChain{}, defaults(), testLogger())
	assert.Equal(t, defaults(), resolver.ServersForRecipient("bob"))
}

func TestResolver_PublishedServersResolve(t *testing.T) {
	chain := NewStaticChainDB()
	chain.PutAccount(&AccountRecord{
		Name:       "bob",
		PublicData: map[string]any{"mail_servers": []any{"mail-a", "mail-b"}},
	})
	chain.PutAccount(serverAccount("mail-a", "10.0.0.1:3000"))
	chain.PutAccount(serverAccount("mail-b", "10.0.0.2:3000"))

	resolver := NewResolver(chain, defaults(), testLogger())
	servers := resolver.ServersForRecipient("bob")

	require.Len(t, servers, 2)
	assert.Equal(t, "10.0.0.1:3000", servers["mail-a"])
	assert.Equal(t, "10.0.0.2:3000", servers["mail-b"])
}

func TestResolver_SkipsUnresolvableServerNames(t *testing.T) {
	chain := NewStaticChainDB()
	chain.PutAccount(&AccountRecord{
		Name:       "bob",
		PublicData: map[string]any{"mail_servers": []any{"mail-a", "ghost", "keyless"}},
	})
	chain.PutAccount(serverAccount("mail-a", "10.0.0.1:3000"))
	// "keyless" exists but publishes no endpoint
	chain.PutAccount(&AccountRecord{Name: "keyless", PublicData: map[string]any{}})

	resolver := NewResolver(chain, defaults(), testLogger())
	servers := resolver.ServersForRecipient("bob")

	require.Len(t, servers, 1)
	assert.Equal(t, "10.0.0.1:3000", servers["mail-a"])
}

func TestResolver_EmptyResultIsLegal(t *testing.T) {
	chain := NewStaticChainDB()
	chain.PutAccount(&AccountRecord{
		Name:       "bob",
		PublicData: map[string]any{"mail_servers": []any{"ghost"}},
	})

	resolver := NewResolver(chain, models.ServerList{}, testLogger())
	assert.Empty(t, resolver.ServersForRecipient("bob"))
}

func TestResolver_MalformedMailServersFallsBack(t *testing.T) {
	tests := []struct {
		name string
		data map[string]any
	}{
		{"not an array", map[string]any{"mail_servers": "mail-a"}},
		{"non-string entry", map[string]any{"mail_servers": []any{42}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := NewStaticChainDB()
			chain.PutAccount(&AccountRecord{Name: "bob", PublicData: tt.data})

			resolver := NewResolver(chain, defaults(), testLogger())
			assert.Equal(t, defaults(), resolver.ServersForRecipient("bob"))
		})
	}
}

func TestResolver_AbsentFieldUsesDefaults(t *testing.T) {
	chain := NewStaticChainDB()
	chain.PutAccount(&AccountRecord{Name: "bob", PublicData: map[string]any{}})

	resolver := NewResolver(chain, defaults(), testLogger())
	assert.Equal(t, defaults(), resolver.ServersForRecipient("bob"))
}
