package store

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
	"gorm.io/gorm"
)

// ProcessingStore holds in-flight outgoing messages keyed by their stable
// submission ID. Reads are served from a write-through cache; every write
// is durable in sqlite before Put returns.
type ProcessingStore struct {
	db    *gorm.DB
	mu    sync.RWMutex
	cache map[models.MessageID]models.ProcessingRecord
}

func openProcessingStore(db *gorm.DB) (*ProcessingStore, error) {
	if err := db.AutoMigrate(&processingRow{}); err != nil {
		return nil, fmt.Errorf("migrate processing store: %w", err)
	}

	s := &ProcessingStore{
		db:    db,
		cache: make(map[models.MessageID]models.ProcessingRecord),
	}

	var rows []processingRow
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load processing store: %w", err)
	}
	for _, row := range rows {
		id, err := messageIDFromBytes(row.ID)
		if err != nil {
			return nil, err
		}
		rec, err := row.decode()
		if err != nil {
			return nil, err
		}
		s.cache[id] = rec
	}
	return s, nil
}

// Get returns the record stored under id.
func (s *ProcessingStore) Get(id models.MessageID) (models.ProcessingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cache[id]
	if !ok {
		return models.ProcessingRecord{}, apperrors.ErrNotFound
	}
	return rec, nil
}

// GetOptional returns the record stored under id, if any.
func (s *ProcessingStore) GetOptional(id models.MessageID) (models.ProcessingRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.cache[id]
	return rec, ok
}

// Put stores rec under id. The key is explicit rather than taken from the
// record: finalize rekeys content under its mined digest while the
// processing entry stays under the stable submission ID.
func (s *ProcessingStore) Put(id models.MessageID, rec models.ProcessingRecord) error {
	row, err := newProcessingRow(id, rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("store processing record %s: %w", id, err)
	}
	s.cache[id] = rec
	return nil
}

// Delete removes the record stored under id. Deleting a missing record is
// not an error.
func (s *ProcessingStore) Delete(id models.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Delete(&processingRow{}, "id = ?", id[:]).Error; err != nil {
		return fmt.Errorf("delete processing record %s: %w", id, err)
	}
	delete(s.cache, id)
	return nil
}

// ForEach visits every record in ascending key order.
func (s *ProcessingStore) ForEach(fn func(id models.MessageID, rec models.ProcessingRecord) error) error {
	s.mu.RLock()
	ids := make([]models.MessageID, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
	records := make([]models.ProcessingRecord, len(ids))
	for i, id := range ids {
		records[i] = s.cache[id]
	}
	s.mu.RUnlock()

	for i, id := range ids {
		if err := fn(id, records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of stored records.
func (s *ProcessingStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
