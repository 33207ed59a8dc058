package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publisher is the push-sink contract: deliver an event on a channel. The
// fan-out fabric behind it is a hosted pub/sub service; the worker only ever
// calls Publish.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// pushFrame is the wire envelope published to the sink.
type pushFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// RedisPublisher delivers events over Redis pub/sub. Subscribers listen on
// their user channel and dispatch on the event name.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher creates a RedisPublisher.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish encodes the event envelope and publishes it on the channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	frame, err := json.Marshal(pushFrame{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encoding push frame: %w", err)
	}
	if err := p.client.Publish(ctx, channel, frame).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", channel, err)
	}
	return nil
}

// Verify interface implementation.
var _ Publisher = (*RedisPublisher)(nil)
