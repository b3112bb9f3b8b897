package mail

import (
	"context"
	"log/slog"

	"github.com/chainmail-net/chainmail/internal/models"
)

// cancelCheckStride is how many nonce attempts a mining slice makes
// between looks at its cancellation signal.
const cancelCheckStride = 1024

// runProofOfWork drives one message through mining. The search runs in
// bounded slices on a helper goroutine; between slices the supervisor
// refreshes the content timestamp, persists progress and re-checks for
// user cancellation.
func (c *Client) runProofOfWork(ctx context.Context, id models.MessageID) {
	rec, err := c.store.Processing.Get(id)
	if err != nil {
		c.logger.Warn("proof-of-work job for unknown message", slog.String("id", id.String()))
		return
	}

	switch {
	case rec.Status == models.StatusCanceled:
		c.markFailed(id, rec, "Canceled by user.")
		return
	case rec.PowTarget.IsZero():
		c.markFailed(id, rec, "No proof of work target. Cannot do proof of work.")
		return
	}

	rec.Status = models.StatusProofOfWork
	if err := c.store.Processing.Put(id, rec); err != nil {
		return
	}

	for rec.Content.ID().Compare(rec.PowTarget) > 0 {
		if current, err := c.store.Processing.Get(id); err != nil || current.Status == models.StatusCanceled {
			break
		}
		if ctx.Err() != nil {
			// Shutdown: leave the record persisted at proof_of_work so
			// the next open resumes mining.
			return
		}

		// Refresh the timestamp before each slice so a long search does
		// not age the message past the servers' freshness window.
		rec.Content.Timestamp = c.chain.Now().Unix()
		if err := c.store.Processing.Put(id, rec); err != nil {
			return
		}

		rec.Content.Nonce = c.mineSlice(ctx, rec.Content, rec.PowTarget)
	}

	if current, err := c.store.Processing.Get(id); err != nil || current.Status == models.StatusCanceled {
		c.markFailed(id, rec, "Canceled by user.")
		return
	}

	if err := c.store.Processing.Put(id, rec); err != nil {
		return
	}
	c.scheduleTransmit(id)
}

// mineSlice searches nonces on a helper goroutine for at most one slice
// interval, and returns the nonce it stopped at. The slice works on its
// own copy of the message; the result is handed back over a channel, so
// no state is shared across the goroutine boundary.
func (c *Client) mineSlice(ctx context.Context, content models.Message, target models.MessageID) uint64 {
	sliceCtx, cancel := context.WithTimeout(ctx, c.sliceInterval)
	defer cancel()

	result := make(chan uint64, 1)
	go func() {
		msg := content
		for {
			for i := 0; i < cancelCheckStride; i++ {
				if msg.ID().Compare(target) <= 0 {
					result <- msg.Nonce
					return
				}
				msg.Nonce++
			}
			select {
			case <-sliceCtx.Done():
				result <- msg.Nonce
				return
			default:
			}
		}
	}()
	return <-result
}
