package pubsub

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis publishes through Redis channels so every instance running Run
// delivers to its own local subscribers.
type Redis struct {
	client *redis.Client
	prefix string
	local  *Local
}

// NewRedis creates a Redis-bridged broker. Channels are named prefix+topic.
func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix, local: NewLocal()}
}

// Publish sends payload to all instances
func (r *Redis) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := r.client.Publish(ctx, r.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers a local subscription
func (r *Redis) Subscribe(topic string) *Subscription {
	return r.local.Subscribe(topic)
}

// Run relays Redis messages to local subscribers until ctx is cancelled
func (r *Redis) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, r.prefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to redis: %w", err)
	}
	log.Info().Str("pattern", r.prefix+"*").Msg("Redis broker relay started")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Redis broker relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription channel closed")
			}
			r.local.Deliver(strings.TrimPrefix(msg.Channel, r.prefix), []byte(msg.Payload))
		}
	}
}
