// Package store implements the client's four persistent keyed stores:
// processing (in-flight outgoing mail), archive (durable sent and
// received mail), inbox (unread headers) and properties (metadata).
package store

import (
	"fmt"
	"path/filepath"

	"github.com/chainmail-net/chainmail/internal/database"
	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"gorm.io/gorm"
)

// Version is the supported on-disk format version. Open fails when the
// data directory was written by a different version.
const Version = 1

// Store bundles the four keyed stores under one data directory.
type Store struct {
	Processing *ProcessingStore
	Archive    *ArchiveStore
	Inbox      *InboxStore
	Properties *PropertyStore

	dbs []*gorm.DB
}

// Open opens every store under dataDir, creating them on first use, and
// enforces the format version recorded in the property store.
func Open(dataDir string) (*Store, error) {
	s := &Store{}

	open := func(name string) (*gorm.DB, error) {
		db, err := database.Open(filepath.Join(dataDir, name))
		if err != nil {
			return nil, err
		}
		s.dbs = append(s.dbs, db)
		return db, nil
	}

	fail := func(err error) (*Store, error) {
		_ = s.Close()
		return nil, err
	}

	archiveDB, err := open("archive")
	if err != nil {
		return fail(err)
	}
	processingDB, err := open("processing")
	if err != nil {
		return fail(err)
	}
	inboxDB, err := open("inbox")
	if err != nil {
		return fail(err)
	}
	propertiesDB, err := open("properties")
	if err != nil {
		return fail(err)
	}

	if s.Archive, err = openArchiveStore(archiveDB); err != nil {
		return fail(err)
	}
	if s.Processing, err = openProcessingStore(processingDB); err != nil {
		return fail(err)
	}
	if s.Inbox, err = openInboxStore(inboxDB); err != nil {
		return fail(err)
	}
	if s.Properties, err = openPropertyStore(propertiesDB); err != nil {
		return fail(err)
	}

	version, ok, err := s.Properties.GetInt64("version")
	if err != nil {
		return fail(err)
	}
	if !ok {
		if err := s.Properties.Put("version", int64(Version)); err != nil {
			return fail(err)
		}
	} else if version != Version {
		return fail(fmt.Errorf("%w: supported %d, stored %d",
			apperrors.ErrStoreVersion, Version, version))
	}

	return s, nil
}

// Close closes every underlying database.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range s.dbs {
		if err := database.Close(db); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.dbs = nil
	return firstErr
}
