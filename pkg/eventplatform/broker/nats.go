package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSBroker implements StreamBroker over NATS JetStream using the
// usual stream/consumer idiom, exposing the narrower explicit-ack
// StreamBroker contract instead of
// an auto-acking subscription channel.
//
// JetStream's pull-consumer redelivery model differs from Redis
// Streams in one structural way: a message whose AckWait expires is
// handed back to whichever consumer next calls Fetch, there is no
// separate "replay this consumer's own pending entries" step and no
// XPENDING-style enumeration of in-flight message IDs without
// consuming them. ReadOwnPending, PendingIDs and Claim reflect that:
// the steady-state AutoClaim sweep (itself a plain Fetch) is already
// how this broker reclaims stale deliveries.
type NATSBroker struct {
	js jetstream.JetStream

	mu        sync.Mutex
	consumers map[string]jetstream.Consumer
	pending   map[string]jetstream.Msg
}

// NewNATSBroker wraps an existing NATS connection.
func NewNATSBroker(nc *nats.Conn) (*NATSBroker, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return &NATSBroker{
		js:        js,
		consumers: make(map[string]jetstream.Consumer),
		pending:   make(map[string]jetstream.Msg),
	}, nil
}

func consumerKey(stream, group string) string {
	return stream + "/" + group
}

func (b *NATSBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	streamCfg := jetstream.StreamConfig{
		Name:      stream,
		Subjects:  []string{stream},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}

	js, err := b.js.CreateStream(ctx, streamCfg)
	if err != nil {
		js, err = b.js.UpdateStream(ctx, streamCfg)
		if err != nil {
			return fmt.Errorf("ensure stream %s: %w", stream, err)
		}
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       group,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer group %s/%s: %w", stream, group, err)
	}

	b.mu.Lock()
	b.consumers[consumerKey(stream, group)] = cons
	b.mu.Unlock()
	return nil
}

func (b *NATSBroker) Publish(ctx context.Context, stream string, eventID string, payload []byte) error {
	msg := &nats.Msg{
		Subject: stream,
		Data:    payload,
		Header:  nats.Header{"Event-Id": []string{eventID}},
	}
	if _, err := b.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("publish to stream %s: %w", stream, err)
	}
	return nil
}

func (b *NATSBroker) ReadNew(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error) {
	return b.fetch(stream, group, count, block)
}

// ReadOwnPending is a no-op for JetStream: see the NATSBroker doc
// comment for why there is no own-consumer pending replay distinct
// from an ordinary Fetch.
func (b *NATSBroker) ReadOwnPending(ctx context.Context, stream, group, consumer string, count int) ([]Message, error) {
	return nil, nil
}

func (b *NATSBroker) fetch(stream, group string, count int, wait time.Duration) ([]Message, error) {
	b.mu.Lock()
	cons, ok := b.consumers[consumerKey(stream, group)]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("consumer group %s/%s not initialized, call EnsureGroup first", stream, group)
	}
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}

	batch, err := cons.Fetch(count, jetstream.FetchMaxWait(wait))
	if err != nil {
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch from %s/%s: %w", stream, group, err)
	}

	var out []Message
	for msg := range batch.Messages() {
		meta, err := msg.Metadata()
		if err != nil {
			_ = msg.Nak()
			continue
		}

		id := fmt.Sprintf("%s-%d", consumerKey(stream, group), meta.Sequence.Stream)
		b.mu.Lock()
		b.pending[id] = msg
		b.mu.Unlock()

		var idle time.Duration
		if meta.NumDelivered > 1 {
			idle = time.Since(meta.Timestamp)
		}
		out = append(out, Message{
			ID:      id,
			EventID: msg.Headers().Get("Event-Id"),
			Payload: msg.Data(),
			Idle:    idle,
		})
	}
	if err := batch.Error(); err != nil {
		return out, fmt.Errorf("fetch batch error from %s/%s: %w", stream, group, err)
	}
	return out, nil
}

func (b *NATSBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	var firstErr error
	for _, id := range ids {
		b.mu.Lock()
		msg, ok := b.pending[id]
		if ok {
			delete(b.pending, id)
		}
		b.mu.Unlock()
		if !ok {
			continue
		}
		if err := msg.Ack(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("ack %s/%s message %s: %w", stream, group, id, err)
		}
	}
	return firstErr
}

// AutoClaim reclaims stale deliveries the same way new messages are
// read: a plain Fetch against the shared durable consumer. JetStream
// hands ack-expired messages back on the next Fetch regardless of
// which consumer instance calls it, so there is no separate claim
// step and the cursor is always "0".
func (b *NATSBroker) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int, cursor string) ([]Message, string, error) {
	msgs, err := b.fetch(stream, group, count, 100*time.Millisecond)
	if err != nil {
		return nil, "0", err
	}
	return msgs, "0", nil
}

// PendingIDs has no JetStream equivalent: enumerating in-flight
// message IDs without consuming them isn't exposed by a pull
// consumer. AutoClaim already covers reclaim for this broker, so the
// worker's XPENDING+XCLAIM fallback path is never reached here.
func (b *NATSBroker) PendingIDs(ctx context.Context, stream, group string, minIdle time.Duration, count int) ([]string, error) {
	return nil, nil
}

func (b *NATSBroker) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	return nil, nil
}

var _ StreamBroker = (*NATSBroker)(nil)
