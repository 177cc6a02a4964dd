package inventory

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// MovementChannel is the pub/sub channel movement events are published on.
const MovementChannel = "inventory.movements"

// MovementEvent is the published view of a committed ledger write.
// Dashboards and reorder tooling subscribe to it; the core never depends on
// a subscriber being present.
type MovementEvent struct {
	ItemID      int64     `json:"item_id"`
	BranchID    int64     `json:"branch_id"`
	QtyDelta    string    `json:"qty_delta"`
	UnitCost    string    `json:"unit_cost"`
	BatchNumber string    `json:"batch_number"`
	ExpiryDate  string    `json:"expiry_date,omitempty"`
	TxType      string    `json:"tx_type"`
	RefID       string    `json:"ref_id,omitempty"`
	PostedAt    time.Time `json:"posted_at"`
}

// MovementEventFrom maps a movement to its published form.
func MovementEventFrom(m Movement) MovementEvent {
	evt := MovementEvent{
		ItemID:      m.ItemID,
		BranchID:    m.BranchID,
		QtyDelta:    m.QtyDelta.String(),
		UnitCost:    m.UnitCost.String(),
		BatchNumber: m.BatchNumber,
		TxType:      string(m.TxType),
		RefID:       m.RefID,
		PostedAt:    m.CreatedAt,
	}
	if m.ExpiryDate != nil {
		evt.ExpiryDate = m.ExpiryDate.Format("2006-01-02")
	}
	return evt
}

// Publisher emits movement events after commit. Failures must not fail the
// ledger operation.
type Publisher interface {
	MovementPosted(ctx context.Context, evt MovementEvent) error
}

// RedisPublisher publishes movement events to a Redis channel.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher constructs RedisPublisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// MovementPosted publishes the event as JSON.
func (p *RedisPublisher) MovementPosted(ctx context.Context, evt MovementEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, MovementChannel, payload).Err()
}
