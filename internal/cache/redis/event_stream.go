package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// streamMaxLen is the approximate maximum length for Redis streams, enforced
// via XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// EventStream implements domain.EventStream with Redis Streams for the
// durable log and Pub/Sub for live listeners.
type EventStream struct {
	rdb *redis.Client
}

// NewEventStream creates an EventStream backed by the given Client.
func NewEventStream(c *Client) *EventStream {
	return &EventStream{rdb: c.Underlying()}
}

// Append adds payload to stream under the "data" field.
func (s *EventStream) Append(ctx context.Context, stream string, payload []byte) error {
	err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{"data": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis: xadd %s: %w", stream, err)
	}
	return nil
}

// Publish sends payload to a Pub/Sub channel.
func (s *EventStream) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}
