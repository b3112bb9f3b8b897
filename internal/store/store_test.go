package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/models"
)

// StoreTestSuite exercises the four stores against a real data directory.
type StoreTestSuite struct {
	suite.Suite
	dataDir string
	store   *Store
}

// SetupTest opens a fresh data directory before each test
func (s *StoreTestSuite) SetupTest() {
	s.dataDir = s.T().TempDir()
	st, err := Open(s.dataDir)
	require.NoError(s.T(), err)
	s.store = st
}

// TearDownTest closes the store
func (s *StoreTestSuite) TearDownTest() {
	if s.store != nil {
		s.store.Close()
	}
}

// TestStoreTestSuite runs the test suite
func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func testRecord(nonce uint64) models.ProcessingRecord {
	content := models.Message{
		Type:      models.TypeEncrypted,
		Timestamp: 1700000000,
		Nonce:     nonce,
		Payload:   []byte("ciphertext"),
	}
	return models.NewProcessingRecord("alice", "bob", models.PublicKey{}, content)
}

func (s *StoreTestSuite) TestOpen_WritesVersion() {
	version, ok, err := s.store.Properties.GetInt64("version")
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)
	assert.EqualValues(s.T(), Version, version)
}

func (s *StoreTestSuite) TestOpen_RejectsWrongVersion() {
	require.NoError(s.T(), s.store.Properties.Put("version", int64(99)))
	require.NoError(s.T(), s.store.Close())
	s.store = nil

	_, err := Open(s.dataDir)
	assert.ErrorIs(s.T(), err, apperrors.ErrStoreVersion)
}

func (s *StoreTestSuite) TestProcessing_PutGetDelete() {
	rec := testRecord(1)

	require.NoError(s.T(), s.store.Processing.Put(rec.ID, rec))

	got, err := s.store.Processing.Get(rec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), rec, got)

	require.NoError(s.T(), s.store.Processing.Delete(rec.ID))
	_, err = s.store.Processing.Get(rec.ID)
	assert.ErrorIs(s.T(), err, apperrors.ErrNotFound)
}

func (s *StoreTestSuite) TestProcessing_SurvivesReopen() {
	// Arrange: persist a record, then simulate a restart
	rec := testRecord(7)
	rec.Status = models.StatusProofOfWork
	require.NoError(s.T(), s.store.Processing.Put(rec.ID, rec))
	require.NoError(s.T(), s.store.Close())

	// Act
	reopened, err := Open(s.dataDir)
	require.NoError(s.T(), err)
	s.store = reopened

	// Assert: the cache was rebuilt from disk
	got, err := reopened.Processing.Get(rec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusProofOfWork, got.Status)
	assert.Equal(s.T(), rec.Content.Nonce, got.Content.Nonce)
}

func (s *StoreTestSuite) TestProcessing_ForEachOrdered() {
	var ids []models.MessageID
	for nonce := uint64(0); nonce < 5; nonce++ {
		rec := testRecord(nonce)
		require.NoError(s.T(), s.store.Processing.Put(rec.ID, rec))
		ids = append(ids, rec.ID)
	}

	var visited []models.MessageID
	err := s.store.Processing.ForEach(func(id models.MessageID, rec models.ProcessingRecord) error {
		visited = append(visited, id)
		return nil
	})
	require.NoError(s.T(), err)

	assert.Len(s.T(), visited, len(ids))
	for i := 1; i < len(visited); i++ {
		assert.Negative(s.T(), visited[i-1].Compare(visited[i]), "cursor must be ordered")
	}
}

func (s *StoreTestSuite) TestProcessing_KeyedExplicitly() {
	// The processing store stays keyed by the stable submission id even
	// after mining has moved the content id elsewhere.
	rec := testRecord(3)
	stable := rec.ID
	rec.Content.Nonce = 12345

	require.NoError(s.T(), s.store.Processing.Put(stable, rec))

	_, ok := s.store.Processing.GetOptional(rec.Content.ID())
	assert.False(s.T(), ok)
	got, err := s.store.Processing.Get(stable)
	require.NoError(s.T(), err)
	assert.EqualValues(s.T(), 12345, got.Content.Nonce)
}

func (s *StoreTestSuite) TestArchive_PutGetOverwrite() {
	rec := models.ArchiveFromProcessing(testRecord(2))
	require.NoError(s.T(), s.store.Archive.Put(rec.ID, rec))

	got, err := s.store.Archive.Get(rec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusAccepted, got.Status)

	// Idempotent overwrite, as the fetcher's merge relies on
	got.Status = models.StatusReceived
	got.Servers = models.ServerList{"mail-a": "127.0.0.1:1"}
	require.NoError(s.T(), s.store.Archive.Put(rec.ID, got))

	got, err = s.store.Archive.Get(rec.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), models.StatusReceived, got.Status)
	assert.Len(s.T(), got.Servers, 1)
}

func (s *StoreTestSuite) TestArchive_ForEachOrdered() {
	for nonce := uint64(0); nonce < 8; nonce++ {
		rec := models.ArchiveFromProcessing(testRecord(nonce))
		require.NoError(s.T(), s.store.Archive.Put(rec.ID, rec))
	}

	var visited []models.MessageID
	err := s.store.Archive.ForEach(func(id models.MessageID, rec models.ArchiveRecord) error {
		visited = append(visited, id)
		return nil
	})
	require.NoError(s.T(), err)

	assert.Len(s.T(), visited, 8)
	for i := 1; i < len(visited); i++ {
		assert.Negative(s.T(), visited[i-1].Compare(visited[i]))
	}
}

func (s *StoreTestSuite) TestInbox_ListSortedByTimestamp() {
	base := time.Unix(1700000000, 0).UTC()
	for i, offset := range []time.Duration{3 * time.Hour, time.Hour, 2 * time.Hour} {
		header := models.EmailHeader{
			ID:        models.Digest([]byte{byte(i)}),
			Sender:    "alice",
			Recipient: "bob",
			Timestamp: base.Add(offset),
		}
		require.NoError(s.T(), s.store.Inbox.Put(header.ID, header))
	}

	headers := s.store.Inbox.List()
	require.Len(s.T(), headers, 3)
	assert.True(s.T(), headers[0].Timestamp.Before(headers[1].Timestamp))
	assert.True(s.T(), headers[1].Timestamp.Before(headers[2].Timestamp))
}

func (s *StoreTestSuite) TestProperties_LastFetchRoundTrip() {
	when := time.Unix(1700001234, 0).UTC()
	require.NoError(s.T(), s.store.Properties.Put("last_fetch/alice", when))

	got, ok, err := s.store.Properties.GetTime("last_fetch/alice")
	require.NoError(s.T(), err)
	assert.True(s.T(), ok)
	assert.True(s.T(), when.Equal(got))

	_, ok, err = s.store.Properties.GetTime("last_fetch/nobody")
	require.NoError(s.T(), err)
	assert.False(s.T(), ok)
}

func (s *StoreTestSuite) TestLayout_FourSubdirectories() {
	for _, name := range []string{"archive", "processing", "inbox", "properties"} {
		assert.DirExists(s.T(), s.dataDir+"/"+name)
	}
}
