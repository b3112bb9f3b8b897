// Package index maintains the in-memory secondary index over the mail
// archive. It is rebuilt from the archive on every open, so it can never
// diverge from the durable store.
package index

import (
	"sort"
	"sync"

	"github.com/chainmail-net/chainmail/internal/models"
)

// Index answers point and range queries over archive headers. One coarse
// lock guards everything; query throughput is not a concern here, but the
// background rebuild, the fetcher and finalize all insert concurrently.
type Index struct {
	mu       sync.Mutex
	byID     map[models.MessageID]models.IndexRecord
	ordered  []models.IndexRecord // sorted by (sender, recipient, timestamp, id)
	building bool
}

// New creates an empty index.
func New() *Index {
	return &Index{
		byID: make(map[models.MessageID]models.IndexRecord),
	}
}

// SetBuilding marks the start or end of a background rebuild. The range
// queries here keep answering during a rebuild; callers consult Building
// to decide whether to refuse them.
func (x *Index) SetBuilding(building bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.building = building
}

// Building reports whether a rebuild is in progress.
func (x *Index) Building() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.building
}

// Insert adds or replaces the row for rec.ID.
func (x *Index) Insert(rec models.IndexRecord) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.byID[rec.ID]; ok {
		if old == rec {
			return
		}
		x.removeOrderedLocked(old)
	}
	x.byID[rec.ID] = rec

	pos := sort.Search(len(x.ordered), func(i int) bool {
		return !recordLess(x.ordered[i], rec)
	})
	x.ordered = append(x.ordered, models.IndexRecord{})
	copy(x.ordered[pos+1:], x.ordered[pos:])
	x.ordered[pos] = rec
}

// Remove drops the row for id, if present.
func (x *Index) Remove(id models.MessageID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.byID[id]
	if !ok {
		return
	}
	delete(x.byID, id)
	x.removeOrderedLocked(rec)
}

func (x *Index) removeOrderedLocked(rec models.IndexRecord) {
	pos := sort.Search(len(x.ordered), func(i int) bool {
		return !recordLess(x.ordered[i], rec)
	})
	for pos < len(x.ordered) {
		if x.ordered[pos].ID == rec.ID {
			x.ordered = append(x.ordered[:pos], x.ordered[pos+1:]...)
			return
		}
		if recordLess(rec, x.ordered[pos]) {
			return
		}
		pos++
	}
}

// Get returns the row for id.
func (x *Index) Get(id models.MessageID) (models.IndexRecord, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	rec, ok := x.byID[id]
	return rec, ok
}

// Len returns the number of indexed rows.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.byID)
}

// BySender returns rows for all messages sent by sender, ordered by
// (recipient, timestamp).
func (x *Index) BySender(sender string) []models.IndexRecord {
	return x.scan(func(rec models.IndexRecord) bool {
		return rec.Sender == sender
	})
}

// FromTo returns rows for all messages from sender to recipient, ordered
// by timestamp.
func (x *Index) FromTo(sender, recipient string) []models.IndexRecord {
	return x.scan(func(rec models.IndexRecord) bool {
		return rec.Sender == sender && rec.Recipient == recipient
	})
}

// ByRecipient returns rows for all messages addressed to recipient,
// ordered by timestamp.
func (x *Index) ByRecipient(recipient string) []models.IndexRecord {
	x.mu.Lock()
	matches := make([]models.IndexRecord, 0)
	for _, rec := range x.ordered {
		if rec.Recipient == recipient {
			matches = append(matches, rec)
		}
	}
	x.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].Timestamp.Equal(matches[j].Timestamp) {
			return matches[i].Timestamp.Before(matches[j].Timestamp)
		}
		return matches[i].ID.Compare(matches[j].ID) < 0
	})
	return matches
}

// ByTimestamp returns every row ordered by timestamp.
func (x *Index) ByTimestamp() []models.IndexRecord {
	x.mu.Lock()
	all := make([]models.IndexRecord, len(x.ordered))
	copy(all, x.ordered)
	x.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].ID.Compare(all[j].ID) < 0
	})
	return all
}

func (x *Index) scan(match func(models.IndexRecord) bool) []models.IndexRecord {
	x.mu.Lock()
	defer x.mu.Unlock()
	matches := make([]models.IndexRecord, 0)
	for _, rec := range x.ordered {
		if match(rec) {
			matches = append(matches, rec)
		}
	}
	return matches
}

// recordLess orders rows by (sender, recipient, timestamp, id).
func recordLess(a, b models.IndexRecord) bool {
	if a.Sender != b.Sender {
		return a.Sender < b.Sender
	}
	if a.Recipient != b.Recipient {
		return a.Recipient < b.Recipient
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID.Compare(b.ID) < 0
}
