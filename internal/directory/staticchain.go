package directory

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chainmail-net/chainmail/internal/models"
)

// StaticChainDB is a ChainDB backed by an account list loaded from disk,
// for deployments that follow the directory through an exported snapshot
// instead of a full chain node.
type StaticChainDB struct {
	mu       sync.RWMutex
	accounts map[string]*AccountRecord
}

// NewStaticChainDB creates an empty directory snapshot.
func NewStaticChainDB() *StaticChainDB {
	return &StaticChainDB{accounts: make(map[string]*AccountRecord)}
}

type chainFileEntry struct {
	Name             string           `json:"name"`
	OwnerKey         models.PublicKey `json:"owner_key"`
	ActiveKey        models.PublicKey `json:"active_key"`
	RegistrationDate time.Time        `json:"registration_date"`
	PublicData       map[string]any   `json:"public_data,omitempty"`
}

// LoadChainFile reads a JSON array of account records.
func LoadChainFile(path string) (*StaticChainDB, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain directory %s: %w", path, err)
	}
	var entries []chainFileEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode chain directory %s: %w", path, err)
	}

	db := NewStaticChainDB()
	for _, entry := range entries {
		db.PutAccount(&AccountRecord{
			Name:             entry.Name,
			OwnerKey:         entry.OwnerKey,
			ActiveKey:        entry.ActiveKey,
			RegistrationDate: entry.RegistrationDate,
			PublicData:       entry.PublicData,
		})
	}
	return db, nil
}

// PutAccount adds or replaces an account record.
func (db *StaticChainDB) PutAccount(record *AccountRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.accounts[record.Name] = record
}

// GetAccountRecord implements ChainDB.
func (db *StaticChainDB) GetAccountRecord(name string) (*AccountRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.accounts[name], nil
}

// Now implements ChainDB.
func (db *StaticChainDB) Now() time.Time {
	return time.Now().UTC()
}
