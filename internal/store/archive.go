package store

import (
	"errors"
	"fmt"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
	"gorm.io/gorm"
)

// ArchiveStore holds every durably stored message, sent and received,
// keyed by final content digest. It is append-mostly and uncached; the
// in-memory index makes its queries cheap.
type ArchiveStore struct {
	db *gorm.DB
}

func openArchiveStore(db *gorm.DB) (*ArchiveStore, error) {
	if err := db.AutoMigrate(&archiveRow{}); err != nil {
		return nil, fmt.Errorf("migrate archive store: %w", err)
	}
	return &ArchiveStore{db: db}, nil
}

// Get returns the record stored under id.
func (s *ArchiveStore) Get(id models.MessageID) (models.ArchiveRecord, error) {
	var row archiveRow
	err := s.db.First(&row, "id = ?", id[:]).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ArchiveRecord{}, apperrors.ErrNotFound
		}
		return models.ArchiveRecord{}, fmt.Errorf("get archive record %s: %w", id, err)
	}
	return row.decode()
}

// GetOptional returns the record stored under id, if any.
func (s *ArchiveStore) GetOptional(id models.MessageID) (models.ArchiveRecord, bool) {
	rec, err := s.Get(id)
	if err != nil {
		return models.ArchiveRecord{}, false
	}
	return rec, true
}

// Put stores rec under id, replacing any existing record.
func (s *ArchiveStore) Put(id models.MessageID, rec models.ArchiveRecord) error {
	row, err := newArchiveRow(id, rec)
	if err != nil {
		return err
	}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("store archive record %s: %w", id, err)
	}
	return nil
}

// Delete removes the record stored under id.
func (s *ArchiveStore) Delete(id models.MessageID) error {
	if err := s.db.Delete(&archiveRow{}, "id = ?", id[:]).Error; err != nil {
		return fmt.Errorf("delete archive record %s: %w", id, err)
	}
	return nil
}

// ForEach visits every record in ascending key order. The visit runs in
// batches so an archive scan does not hold the whole table in memory.
func (s *ArchiveStore) ForEach(fn func(id models.MessageID, rec models.ArchiveRecord) error) error {
	var rows []archiveRow
	result := s.db.Order("id").FindInBatches(&rows, 200, func(tx *gorm.DB, batch int) error {
		for _, row := range rows {
			id, err := messageIDFromBytes(row.ID)
			if err != nil {
				return err
			}
			rec, err := row.decode()
			if err != nil {
				return err
			}
			if err := fn(id, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if result.Error != nil {
		return fmt.Errorf("scan archive: %w", result.Error)
	}
	return nil
}
