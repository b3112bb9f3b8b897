// Package mail implements the client-side mail pipeline: submitting
// outgoing messages through proof-of-work and transmission, fetching
// inbound mail from the recipient's published servers, and keeping the
// processing, archive and inbox stores coherent across restarts.
package mail

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chainmail-net/chainmail/internal/directory"
	apperrors "github.com/chainmail-net/chainmail/internal/errors"
	"github.com/chainmail-net/chainmail/internal/index"
	"github.com/chainmail-net/chainmail/internal/logger"
	"github.com/chainmail-net/chainmail/internal/mailrpc"
	"github.com/chainmail-net/chainmail/internal/models"
	"github.com/chainmail-net/chainmail/internal/store"
	"github.com/chainmail-net/chainmail/internal/wallet"
)

// Pipeline timing defaults. The slice interval is a contract, not a
// tuning knob: it bounds cancellation latency and lets the miner refresh
// the content timestamp between bursts.
const (
	DefaultTransmitTimeout = 10 * time.Second
	DefaultFetchTimeout    = 60 * time.Second
	DefaultSliceInterval   = time.Second

	jobQueueDepth = 1024
)

// Dialer opens a wire-protocol connection to a mail server endpoint.
type Dialer func(ctx context.Context, endpoint string) (*mailrpc.Client, error)

// Options configures a Client.
type Options struct {
	Wallet         wallet.Wallet
	Chain          directory.ChainDB
	DefaultServers models.ServerList
	PowTarget      models.MessageID
	Logger         *slog.Logger

	// Overridable in tests; zero values select the defaults above.
	TransmitTimeout time.Duration
	FetchTimeout    time.Duration
	SliceInterval   time.Duration
	Dial            Dialer
}

// Client is the mail client facade. One PoW worker and one transmit
// worker drain their queues serially; fan-out happens only inside a
// single message's transmission and a single account's fetch pass.
type Client struct {
	wallet   wallet.Wallet
	chain    directory.ChainDB
	resolver *directory.Resolver
	logger   *slog.Logger
	events   *logger.MailLogger

	powTarget       models.MessageID
	transmitTimeout time.Duration
	fetchTimeout    time.Duration
	sliceInterval   time.Duration
	dial            Dialer

	// NewMailNotifier fires after a check that brought in new messages.
	NewMailNotifier func(count int)
	// NewTransactionNotifier fires for each received transaction notice.
	NewTransactionNotifier func(notice models.TransactionNotice)

	mu    sync.RWMutex
	open  bool
	store *store.Store
	index *index.Index

	// archiveMu serializes read-modify-write merges on the archive so
	// two servers delivering the same message cannot drop a server
	// entry.
	archiveMu sync.Mutex

	powJobs      chan models.MessageID
	transmitJobs chan models.MessageID

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	workers      sync.WaitGroup
}

// New creates a closed client; call Open before use.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Client{
		wallet:          opts.Wallet,
		chain:           opts.Chain,
		resolver:        directory.NewResolver(opts.Chain, opts.DefaultServers, log),
		logger:          log,
		events:          logger.NewMailLogger(log),
		powTarget:       opts.PowTarget,
		transmitTimeout: opts.TransmitTimeout,
		fetchTimeout:    opts.FetchTimeout,
		sliceInterval:   opts.SliceInterval,
		dial:            opts.Dial,
	}
	if c.transmitTimeout <= 0 {
		c.transmitTimeout = DefaultTransmitTimeout
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = DefaultFetchTimeout
	}
	if c.sliceInterval <= 0 {
		c.sliceInterval = DefaultSliceInterval
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context, endpoint string) (*mailrpc.Client, error) {
			return mailrpc.Dial(ctx, endpoint, log)
		}
	}
	return c
}

// Open opens the stores under dataDir, re-enters every surviving
// processing record at its persisted pipeline stage, and starts the
// background archive indexing.
func (c *Client) Open(dataDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return nil
	}

	st, err := store.Open(dataDir)
	if err != nil {
		return err
	}
	c.store = st
	c.index = index.New()

	c.workerCtx, c.cancelWorker = context.WithCancel(context.Background())
	c.powJobs = make(chan models.MessageID, jobQueueDepth)
	c.transmitJobs = make(chan models.MessageID, jobQueueDepth)

	c.workers.Add(2)
	go c.powWorker()
	go c.transmitWorker()

	c.open = true

	// Place all in-processing messages back on the pipeline.
	var survivors []models.ProcessingRecord
	_ = st.Processing.ForEach(func(id models.MessageID, rec models.ProcessingRecord) error {
		survivors = append(survivors, rec)
		return nil
	})
	for _, rec := range survivors {
		c.dispatch(rec)
	}

	c.indexArchive()
	return nil
}

// Close stops the workers and closes the stores.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	c.cancelWorker()
	c.workers.Wait()
	err := c.store.Close()
	c.open = false
	return err
}

// IsOpen reports whether the client's stores are open.
func (c *Client) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

func (c *Client) requireOpen() error {
	if !c.IsOpen() {
		return apperrors.ErrClientClosed
	}
	return nil
}

// dispatch re-enters a record at the pipeline stage its status names.
func (c *Client) dispatch(rec models.ProcessingRecord) {
	switch rec.Status {
	case models.StatusSubmitted:
		c.processOutgoingMail(rec)
	case models.StatusProofOfWork:
		c.schedulePow(rec.ID)
	case models.StatusTransmitting:
		c.scheduleTransmit(rec.ID)
	case models.StatusAccepted:
		c.finalizeMessage(rec.ID)
	default:
		// failed and canceled records stay parked until the user acts.
	}
}

func (c *Client) schedulePow(id models.MessageID) {
	select {
	case c.powJobs <- id:
	case <-c.workerCtx.Done():
	}
}

func (c *Client) scheduleTransmit(id models.MessageID) {
	select {
	case c.transmitJobs <- id:
	case <-c.workerCtx.Done():
	}
}

func (c *Client) powWorker() {
	defer c.workers.Done()
	for {
		select {
		case <-c.workerCtx.Done():
			return
		case id := <-c.powJobs:
			c.runProofOfWork(c.workerCtx, id)
		}
	}
}

func (c *Client) transmitWorker() {
	defer c.workers.Done()
	for {
		select {
		case <-c.workerCtx.Done():
			return
		case id := <-c.transmitJobs:
			c.runTransmit(c.workerCtx, id)
		}
	}
}

// indexArchive rebuilds the in-memory index from the archive in the
// background. Queries against the secondary indexes refuse to answer
// until the rebuild finishes.
func (c *Client) indexArchive() {
	c.index.SetBuilding(true)
	idx, st, ctx := c.index, c.store, c.workerCtx
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer idx.SetBuilding(false)
		err := st.Archive.ForEach(func(id models.MessageID, rec models.ArchiveRecord) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			idx.Insert(models.IndexFromArchive(rec))
			return nil
		})
		if err != nil && ctx.Err() == nil {
			c.logger.Error("archive indexing failed", slog.String("error", err.Error()))
		}
	}()
}

// markFailed parks a record in processing with a terminal failure.
func (c *Client) markFailed(id models.MessageID, rec models.ProcessingRecord, reason string) {
	rec.Status = models.StatusFailed
	rec.FailureReason = reason
	if err := c.store.Processing.Put(id, rec); err != nil {
		c.logger.Error("persist failure state", slog.String("id", id.String()), slog.String("error", err.Error()))
	}
	c.events.MessageFailed(id.String(), reason)
}

// sortedStatuses lists (status, id) pairs sorted by status then id, the
// shape both store listings share.
func sortedStatuses(pairs []models.MessageStatus) []models.MessageStatus {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Status != pairs[j].Status {
			return pairs[i].Status < pairs[j].Status
		}
		return pairs[i].ID.Compare(pairs[j].ID) < 0
	})
	return pairs
}
