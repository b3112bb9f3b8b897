package mailrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chainmail-net/chainmail/internal/models"
)

// MaxInventory is the page size for inventory requests; a page shorter
// than this signals end-of-stream.
const MaxInventory = 1000

// InventoryItem is one (timestamp, id) pair from a server's inventory.
// The wire shape is a two-element array.
type InventoryItem struct {
	Timestamp int64
	ID        models.MessageID
}

// UnmarshalJSON implements json.Unmarshaler.
func (item *InventoryItem) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("decode inventory entry: %w", err)
	}
	if err := json.Unmarshal(pair[0], &item.Timestamp); err != nil {
		return fmt.Errorf("decode inventory timestamp: %w", err)
	}
	if err := json.Unmarshal(pair[1], &item.ID); err != nil {
		return fmt.Errorf("decode inventory id: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (item InventoryItem) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{item.Timestamp, item.ID})
}

// StoreMessage asks the server to hold a message.
func (c *Client) StoreMessage(ctx context.Context, msg models.Message) error {
	_, err := c.Call(ctx, "mail_store_message", msg)
	return err
}

// FetchMessage downloads a message by content ID.
func (c *Client) FetchMessage(ctx context.Context, id models.MessageID) (models.Message, error) {
	raw, err := c.Call(ctx, "mail_fetch_message", id)
	if err != nil {
		return models.Message{}, err
	}
	var msg models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Message{}, fmt.Errorf("decode fetched message: %w", err)
	}
	return msg, nil
}

// FetchInventory lists (timestamp, id) pairs addressed to owner since the
// given time, at most limit entries, sorted by timestamp.
func (c *Client) FetchInventory(ctx context.Context, owner models.Address, since int64, limit int) ([]InventoryItem, error) {
	raw, err := c.Call(ctx, "mail_fetch_inventory", owner, since, limit)
	if err != nil {
		return nil, err
	}
	var items []InventoryItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("decode inventory: %w", err)
	}
	return items, nil
}
