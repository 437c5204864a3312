package websocket

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
const DefaultRelayChannel = "healtrack:events"

// RedisRelay publishes hub envelopes on a Redis channel and delivers the
// envelopes it receives to the local hub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  zerolog.Logger
}

func NewRedisRelay(client redis.UniversalClient, channel string, logger zerolog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

func (r *RedisRelay) Publish(ctx context.Context, envelope []byte) error {
	if err := r.client.Publish(ctx, r.channel, envelope).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes and feeds h until ctx is cancelled. It returns an error only
// when the subscription cannot be established.
func (r *RedisRelay) Run(ctx context.Context, h *Hub) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", r.channel, err)
	}
	r.logger.Info().Str("channel", r.channel).Msg("websocket relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h.deliverRaw([]byte(msg.Payload))
		}
	}
}

// Ping checks the Redis connection; used by the health endpoint.
func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
