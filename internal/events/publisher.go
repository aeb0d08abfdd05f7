// Package events publishes message-saved notifications to a Redis stream so
// collaborating services can follow conversations without polling the store.
package events

import (
	"context"
	"time"

	"github.com/RichardoC/scout/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	stream    = "scout:messages"
	maxStream = 10000
)

// Publisher emits events best-effort. A nil Publisher, or one built without
// a Redis client, drops every event; a publish failure is logged and never
// fails the turn that produced the message.
type Publisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	if rdb == nil {
		return nil
	}
	return &Publisher{rdb: rdb, logger: logger}
}

func (p *Publisher) MessageSaved(ctx context.Context, msg models.Message) {
	if p == nil {
		return
	}

	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxStream,
		Approx: true,
		Values: map[string]interface{}{
			"conversation_id": msg.ConvID,
			"message_id":      msg.ID,
			"role":            msg.Role,
			"content":         msg.Content,
			"created_at":      msg.CreatedAt.Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		p.logger.Warn("failed to publish message event",
			zap.Int64("conversation_id", msg.ConvID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err))
	}
}
