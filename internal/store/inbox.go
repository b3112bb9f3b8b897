package store

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
	"gorm.io/gorm"
)

// InboxStore holds headers of messages the user has not archived yet.
// Like the processing store it is cached write-through.
type InboxStore struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[models.MessageID]models.EmailHeader
}

func openInboxStore(db *gorm.DB) (*InboxStore, error) {
	if err := db.AutoMigrate(&inboxRow{}); err != nil {
		return nil, fmt.Errorf("migrate inbox store: %w", err)
	}

	s := &InboxStore{
		db:    db,
		cache: make(map[models.MessageID]models.EmailHeader),
	}

	var rows []inboxRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load inbox store: %w", err)
	}
	for _, row := range rows {
		id, err := messageIDFromBytes(row.ID)
		if err != nil {
			return nil, err
		}
		header, err := row.decode()
		if err != nil {
			return nil, err
		}
		s.cache[id] = header
	}
	return s, nil
}

// Get returns the header stored under id.
func (s *InboxStore) Get(id models.MessageID) (models.EmailHeader, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	header, ok := s.cache[id]
	if !ok {
		return models.EmailHeader{}, apperrors.ErrNotFound
	}
	return header, nil
}

// GetOptional returns the header stored under id, if any.
func (s *InboxStore) GetOptional(id models.MessageID) (models.EmailHeader, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	header, ok := s.cache[id]
	return header, ok
}

// Put stores header under id.
func (s *InboxStore) Put(id models.MessageID, header models.EmailHeader) error {
	row, err := newInboxRow(id, header)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("store inbox header %s: %w", id, err)
	}
	s.cache[id] = header
	return nil
}

// Delete removes the header stored under id.
func (s *InboxStore) Delete(id models.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(&inboxRow{}, "id = ?", id[:]).Error; err != nil {
		return fmt.Errorf("delete inbox header %s: %w", id, err)
	}
	delete(s.cache, id)
	return nil
}

// List returns every header sorted by ascending timestamp.
func (s *InboxStore) List() []models.EmailHeader {
	s.mu.RLock()
	headers := make([]models.EmailHeader, 0, len(s.cache))
	for _, header := range s.cache {
		headers = append(headers, header)
	}
	s.mu.RUnlock()

	sort.Slice(headers, func(i, j int) bool {
		if headers[i].Timestamp.Equal(headers[j].Timestamp) {
			return headers[i].ID.Compare(headers[j].ID) < 0
		}
		return headers[i].Timestamp.Before(headers[j].Timestamp)
	})
	return headers
}

// Len returns the number of unread headers.
func (s *InboxStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
