// Package directory resolves recipient account names to the mail servers
// they have published on-chain.
package directory

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/chainmail-net/chainmail/internal/models"
)

// AccountRecord is the chain's view of a registered account. PublicData
// is free-form JSON published by the account owner; mail routing reads
// two conventional fields out of it.
type AccountRecord struct {
	Name             string
	OwnerKey         models.PublicKey
	ActiveKey        models.PublicKey
	RegistrationDate time.Time
	PublicData       map[string]any
}

// ChainDB is the subset of the chain database the mail client needs.
type ChainDB interface {
	// GetAccountRecord returns the account registered under name, or
	// (nil, nil) when no such account exists.
	GetAccountRecord(name string) (*AccountRecord, error)

	// Now returns chain time, the reference clock for fetch watermarks.
	Now() time.Time
}

// Resolver turns recipient names into server endpoint sets, falling back
// to a built-in default set when the chain has nothing better.
type Resolver struct {
	chain    ChainDB
	defaults models.ServerList
	logger   *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(chain ChainDB, defaults models.ServerList, logger *slog.Logger) *Resolver {
	return &Resolver{chain: chain, defaults: defaults, logger: logger}
}

// ServerNamesForRecipient returns the server account names the recipient
// has published, or the default set when the account is missing or its
// public data is malformed.
func (r *Resolver) ServerNamesForRecipient(recipient string) []string {
	account, err := r.chain.GetAccountRecord(recipient)
	if err != nil {
		r.logger.Error("chain lookup failed",
			slog.String("recipient", recipient), slog.String("error", err.Error()))
		return r.defaultNames()
	}
	if account == nil {
		// Unregistered recipients just get the default servers.
		return r.defaultNames()
	}

	names, err := parseMailServers(account.PublicData)
	if err != nil {
		r.logger.Error("malformed mail_servers entry",
			slog.String("recipient", recipient), slog.String("error", err.Error()))
		return r.defaultNames()
	}
	if names == nil {
		r.logger.Info("account has not published preferred mail servers, using defaults",
			slog.String("recipient", recipient))
		return r.defaultNames()
	}
	return names
}

// ServersForRecipient resolves each published server name to its
// endpoint. Names that do not resolve are skipped; an empty result is a
// legal outcome the caller must treat as a send-time failure.
func (r *Resolver) ServersForRecipient(recipient string) models.ServerList {
	servers := models.ServerList{}
	for _, name := range r.ServerNamesForRecipient(recipient) {
		endpoint, ok := r.lookupEndpoint(name)
		if ok {
			servers[name] = endpoint
			continue
		}
		// A name may be a pre-resolved default ("name=host:port").
		if endpoint, ok := r.defaults[name]; ok {
			servers[name] = endpoint
		}
	}
	return servers
}

func (r *Resolver) lookupEndpoint(name string) (string, bool) {
	account, err := r.chain.GetAccountRecord(name)
	if err != nil {
		r.logger.Error("chain lookup failed",
			slog.String("server", name), slog.String("error", err.Error()))
		return "", false
	}
	if account == nil {
		return "", false
	}
	endpoint, ok := account.PublicData["mail_server_endpoint"].(string)
	if !ok || endpoint == "" {
		return "", false
	}
	return endpoint, true
}

func (r *Resolver) defaultNames() []string {
	names := make([]string, 0, len(r.defaults))
	for name := range r.defaults {
		names = append(names, name)
	}
	return names
}

// parseMailServers extracts the mail_servers array from public data.
// A nil result with nil error means the field is simply absent.
func parseMailServers(publicData map[string]any) ([]string, error) {
	raw, ok := publicData["mail_servers"]
	if !ok {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("mail_servers is not an array")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("mail_servers entry is not a string")
		}
		names = append(names, name)
	}
	return names, nil
}
