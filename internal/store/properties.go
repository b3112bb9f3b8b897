package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"gorm.io/gorm"
)

// PropertyStore holds small pieces of client metadata, such as the store
// version and per-account fetch watermarks. Values are stored as JSON.
type PropertyStore struct {
	db *gorm.DB
}

func openPropertyStore(db *gorm.DB) (*PropertyStore, error) {
	if err := db.AutoMigrate(&propertyRow{}); err != nil {
		return nil, fmt.Errorf("migrate property store: %w", err)
	}
	return &PropertyStore{db: db}, nil
}

// Get unmarshals the value stored under key into out.
func (s *PropertyStore) Get(key string, out any) error {
	var row propertyRow
	err := s.db.First(&row, "key = ?", key).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("get property %q: %w", key, err)
	}
	if err := json.Unmarshal(row.Value, out); err != nil {
		return fmt.Errorf("decode property %q: %w", key, err)
	}
	return nil
}

// Put stores value under key.
func (s *PropertyStore) Put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode property %q: %w", key, err)
	}
	row := propertyRow{Key: key, Value: data}
	if err := s.db.Save(&row).Error; err != nil {
		return fmt.Errorf("store property %q: %w", key, err)
	}
	return nil
}

// GetInt64 reads an integer property; ok is false when the key is absent.
func (s *PropertyStore) GetInt64(key string) (int64, bool, error) {
	var value int64
	err := s.Get(key, &value)
	if errors.Is(err, apperrors.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// GetTime reads a timestamp property; ok is false when the key is absent.
func (s *PropertyStore) GetTime(key string) (time.Time, bool, error) {
	var value time.Time
	err := s.Get(key, &value)
	if errors.Is(err, apperrors.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return value, true, nil
}
