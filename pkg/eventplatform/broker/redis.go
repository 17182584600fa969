package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements StreamBroker over Redis Streams with the
// XAdd/XReadGroup/XAck commands, exposing explicit ack control instead
// of auto-acking on delivery.
type RedisBroker struct {
	client *redis.Client
}

// NewRedisBroker wraps an existing client.
func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("ensure consumer group %s/%s: %w", stream, group, err)
	}
	return nil
}

func (b *RedisBroker) Publish(ctx context.Context, stream string, eventID string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"event_id": eventID,
			"message":  payload,
		},
	}
	if _, err := b.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("publish to stream %s: %w", stream, err)
	}
	return nil
}

func (b *RedisBroker) ReadNew(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error) {
	return b.readGroup(ctx, stream, group, consumer, ">", count, block)
}

func (b *RedisBroker) ReadOwnPending(ctx context.Context, stream, group, consumer string, count int) ([]Message, error) {
	return b.readGroup(ctx, stream, group, consumer, "0", count, 0)
}

func (b *RedisBroker) readGroup(ctx context.Context, stream, group, consumer, id string, count int, block time.Duration) ([]Message, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, id},
		Count:    int64(count),
		Block:    block,
	}
	streams, err := b.client.XReadGroup(ctx, args).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read group %s/%s: %w", stream, group, err)
	}

	var out []Message
	for _, s := range streams {
		for _, entry := range s.Messages {
			out = append(out, toMessage(entry, 0))
		}
	}
	return out, nil
}

func toMessage(entry redis.XMessage, idle time.Duration) Message {
	msg := Message{ID: entry.ID, Idle: idle}
	if v, ok := entry.Values["event_id"].(string); ok {
		msg.EventID = v
	}
	switch v := entry.Values["message"].(type) {
	case string:
		msg.Payload = []byte(v)
	case []byte:
		msg.Payload = v
	}
	return msg
}

func (b *RedisBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := b.client.XAck(ctx, stream, group, ids...).Err(); err != nil {
		return fmt.Errorf("ack %s/%s: %w", stream, group, err)
	}
	return nil
}

func (b *RedisBroker) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int, cursor string) ([]Message, string, error) {
	entries, next, err := b.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    cursor,
		Count:    int64(count),
	}).Result()
	if err != nil {
		return nil, "0", fmt.Errorf("autoclaim %s/%s: %w", stream, group, err)
	}

	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toMessage(entry, minIdle))
	}
	return out, next, nil
}

func (b *RedisBroker) PendingIDs(ctx context.Context, stream, group string, minIdle time.Duration, count int) ([]string, error) {
	res, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  int64(count),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xpending %s/%s: %w", stream, group, err)
	}

	ids := make([]string, 0, len(res))
	for _, p := range res {
		ids = append(ids, p.ID)
	}
	return ids, nil
}

func (b *RedisBroker) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entries, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xclaim %s/%s: %w", stream, group, err)
	}

	out := make([]Message, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toMessage(entry, minIdle))
	}
	return out, nil
}

var _ StreamBroker = (*RedisBroker)(nil)
