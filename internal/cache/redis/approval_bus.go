package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/avelov/sellbot/internal/domain"
)

// approvalChannel is the Pub/Sub channel external signers publish decisions
// on. Malformed payloads are dropped; there is no durable replay, a decision
// missed while the bot was down must be re-sent.
const approvalChannel = "sellbot:approvals"

// ApprovalBus implements domain.ApprovalBus over Redis Pub/Sub.
type ApprovalBus struct {
	rdb *redis.Client
}

// NewApprovalBus creates an ApprovalBus backed by the given Client.
func NewApprovalBus(c *Client) *ApprovalBus {
	return &ApprovalBus{rdb: c.Underlying()}
}

// Publish sends an approval decision. Used by operator tooling; the bot
// itself only subscribes.
func (b *ApprovalBus) Publish(ctx context.Context, msg domain.ApprovalMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: encode approval: %w", err)
	}
	if err := b.rdb.Publish(ctx, approvalChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish approval %s: %w", msg.PendingSellID, err)
	}
	return nil
}

// Subscribe returns a channel of decoded approval decisions. The
// subscription and the returned channel close when ctx is cancelled.
func (b *ApprovalBus) Subscribe(ctx context.Context) (<-chan domain.ApprovalMessage, error) {
	pubsub := b.rdb.Subscribe(ctx, approvalChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe approvals: %w", err)
	}

	out := make(chan domain.ApprovalMessage)
	go func() {
		defer close(out)
		defer pubsub.Close()
		in := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				var msg domain.ApprovalMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ domain.ApprovalBus = (*ApprovalBus)(nil)
