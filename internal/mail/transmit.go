package mail

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chainmail-net/chainmail/internal/mailrpc"
	"github.com/chainmail-net/chainmail/internal/models"
)

// transmitState is shared by one message's fan-out sub-tasks.
type transmitState struct {
	mu         sync.Mutex
	successful models.ServerList
}

func (s *transmitState) recordSuccess(name, endpoint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.successful[name] = endpoint
}

func (s *transmitState) anySuccess() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.successful) > 0
}

func (s *transmitState) snapshot() models.ServerList {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successful.Clone()
}

// runTransmit delivers one message to every resolved server in parallel.
// The first success wins the message a place in the archive; the
// watchdog fails it if ten seconds pass with no success at all.
func (c *Client) runTransmit(ctx context.Context, id models.MessageID) {
	rec, err := c.store.Processing.Get(id)
	if err != nil {
		c.logger.Warn("transmit job for unknown message", slog.String("id", id.String()))
		return
	}

	if len(rec.Servers) == 0 {
		c.markFailed(id, rec, "No mail servers found when trying to transmit message.")
		return
	}
	rec.Status = models.StatusTransmitting
	if err := c.store.Processing.Put(id, rec); err != nil {
		return
	}

	tctx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &transmitState{successful: models.ServerList{}}

	watchdog := time.AfterFunc(c.transmitTimeout, func() {
		current, err := c.store.Processing.Get(id)
		if err != nil {
			cancel()
			return
		}
		// Timed out. If any server succeeded we take the win; if the
		// message already got pushed back in the pipeline, leave it be.
		if !state.anySuccess() && current.Status >= models.StatusTransmitting {
			c.markFailed(id, current, "Timed out while transmitting message.")
		}
		cancel()
	})
	defer watchdog.Stop()

	var tasks sync.WaitGroup
	for name, endpoint := range rec.Servers {
		tasks.Add(1)
		go func(name, endpoint string) {
			defer tasks.Done()
			c.transmitToServer(tctx, id, name, endpoint, state)
		}(name, endpoint)
	}
	tasks.Wait()
	watchdog.Stop()

	current, err := c.store.Processing.Get(id)
	if err != nil || current.Status != models.StatusTransmitting {
		// Failed terminally, or reset to proof_of_work by a freshness
		// rejection; either way this transmission is over.
		return
	}

	if state.anySuccess() {
		current.Servers = state.snapshot()
		if err := c.store.Processing.Put(id, current); err != nil {
			return
		}
		c.finalizeMessage(id)
	}
}

// transmitToServer is one fan-out sub-task: store the message with a
// single server, then read it back to prove the server actually has it.
func (c *Client) transmitToServer(ctx context.Context, id models.MessageID, name, endpoint string, state *transmitState) {
	rec, err := c.store.Processing.Get(id)
	if err != nil {
		return
	}

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		// Mark as failed only if no server has succeeded yet, and never
		// on our own cancellation; the watchdog owns the timeout verdict.
		if ctx.Err() == nil && !state.anySuccess() {
			c.markFailed(id, rec, err.Error())
		}
		return
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.StoreMessage(ctx, rec.Content); err != nil {
		if ctx.Err() != nil {
			return
		}
		switch {
		case mailrpc.IsAlreadyStored(err):
			// Another client already delivered it; the message is there,
			// which is all we wanted.
			c.logger.Warn("message already stored on server",
				slog.String("id", id.String()), slog.String("server", name))
			state.recordSuccess(name, endpoint)
		case mailrpc.IsTimestampTooOld(err):
			// The proof of work aged out; push the message back to the
			// miner under a fresh nonce.
			rec.Status = models.StatusProofOfWork
			rec.Content.Nonce++
			if err := c.store.Processing.Put(id, rec); err != nil {
				return
			}
			c.schedulePow(id)
		default:
			var serverErr *mailrpc.ServerError
			if errors.As(err, &serverErr) {
				c.markFailed(id, rec, serverErr.Message)
				c.logger.Error("server rejected message",
					slog.String("id", id.String()), slog.String("server", name),
					slog.String("error", serverErr.Message))
			} else if !state.anySuccess() {
				c.markFailed(id, rec, err.Error())
			}
		}
		return
	}

	stored, err := conn.FetchMessage(ctx, rec.Content.ID())
	if err != nil {
		if ctx.Err() == nil && !state.anySuccess() {
			c.markFailed(id, rec, err.Error())
		}
		return
	}
	if stored.ID() != rec.Content.ID() {
		// Only possible on a digest collision. Hopefully never.
		c.markFailed(id, rec, "Message saved to server, but server responded with another message when we requested it.")
		c.logger.Error("server gave back wrong message",
			slog.String("id", id.String()), slog.String("server", name))
		return
	}

	state.recordSuccess(name, endpoint)
}

// finalizeMessage moves an accepted submission from processing to the
// archive, rekeyed under its final content digest.
func (c *Client) finalizeMessage(stableID models.MessageID) {
	rec, err := c.store.Processing.Get(stableID)
	if err != nil {
		return
	}

	finalID := rec.Content.ID()
	c.events.MessageAccepted(stableID.String(), finalID.String(), len(rec.Servers))

	rec.ID = finalID
	rec.Status = models.StatusAccepted

	c.index.Insert(models.IndexFromHeader(models.HeaderFromProcessing(rec)))
	if err := c.store.Archive.Put(finalID, models.ArchiveFromProcessing(rec)); err != nil {
		c.logger.Error("archive accepted message",
			slog.String("id", finalID.String()), slog.String("error", err.Error()))
		return
	}
	if err := c.store.Processing.Delete(stableID); err != nil {
		c.logger.Error("clear processing record",
			slog.String("id", stableID.String()), slog.String("error", err.Error()))
	}
}
