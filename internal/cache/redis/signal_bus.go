package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// DefaultStreamMaxLen is the approximate XADD MAXLEN applied to ledger event
// streams.
const DefaultStreamMaxLen int64 = 10000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live fan-out
// of ledger events and Redis Streams for the durable event log.
type SignalBus struct {
	c      *Client
	maxLen int64
}

// NewSignalBus creates a SignalBus backed by the given Client. A maxLen of
// zero or less selects DefaultStreamMaxLen.
func NewSignalBus(c *Client, maxLen int64) *SignalBus {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &SignalBus{c: c, maxLen: maxLen}
}

// Publish sends a raw payload to a Pub/Sub channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.c.rdb.Publish(ctx, sb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe returns a channel of payloads published to channel. Glob patterns
// use PSUBSCRIBE. The subscription and the returned channel are closed when
// ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	name := sb.c.key(channel)
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.c.rdb.PSubscribe(ctx, name)
	} else {
		pubsub = sb.c.rdb.Subscribe(ctx, name)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload to a stream, trimming it to roughly maxLen
// entries.
func (sb *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: sb.c.key(stream),
		MaxLen: sb.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := sb.c.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRead reads up to count messages after lastID without blocking. Use
// "0" to read from the beginning. An empty stream yields an empty slice.
func (sb *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if lastID == "" {
		lastID = "0"
	}
	results, err := sb.c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{sb.c.key(stream), lastID},
		Count:   int64(count),
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: stream read %s: %w", stream, err)
	}

	var messages []domain.StreamMessage
	for _, s := range results {
		for _, msg := range s.Messages {
			var data []byte
			switch v := msg.Values["payload"].(type) {
			case string:
				data = []byte(v)
			case []byte:
				data = v
			default:
				continue
			}
			messages = append(messages, domain.StreamMessage{ID: msg.ID, Payload: data})
		}
	}
	return messages, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
