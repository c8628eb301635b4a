package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"sprache-backend/internal/models"
)

// Channel is the Redis pub/sub channel carrying conversation changes.
const Channel = "conversation_events"

// Publisher announces conversation changes to connected chat clients.
// Publishing is best effort and never fails the write that caused it.
type Publisher interface {
	Publish(ctx context.Context, msg models.WSMessage)
}

type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, msg models.WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode conversation event", zap.Error(err))
		return
	}
	if err := p.client.Publish(ctx, Channel, data).Err(); err != nil {
		p.logger.Warn("failed to publish conversation event",
			zap.String("type", msg.Type),
			zap.Int64("conversation_id", msg.Payload.ConversationID),
			zap.Error(err),
		)
	}
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, models.WSMessage) {}
