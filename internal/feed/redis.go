package feed

import (
	"context"
	"fmt"

	"github.com/prudhvinik1/edgepresence/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, change models.PresenceChange) error {
	body, err := encode(change)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("failed to publish presence change: %w", err)
	}
	return nil
}

// Relay forwards every change published on channel, by any replica, into
// the local hub. It returns when ctx is cancelled.
func Relay(ctx context.Context, client *redis.Client, channel string, hub *Hub, log *zap.Logger) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	// wait for the subscription to be confirmed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}
	log.Info("feed relay started", zap.String("channel", channel))

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info("feed relay stopped", zap.String("channel", channel))
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			change, err := decode([]byte(msg.Payload))
			if err != nil {
				log.Warn("dropping malformed presence change", zap.Error(err))
				continue
			}
			_ = hub.Publish(ctx, change)
		}
	}
}
