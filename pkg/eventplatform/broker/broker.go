// Package broker defines the message-transport boundary for the
// worker (component F) and outbox publisher (component E): explicit
// consumer-group semantics over a stream, deliberately narrower than
// an auto-acking subscription model, since the
// event platform only acks a message after its lifecycle transition
// has durably committed (spec §4.3.1 step 7, ack-after-commit).
package broker

import (
	"context"
	"time"
)

// Message is a single stream entry delivered to the worker.
type Message struct {
	ID      string // stream entry ID, opaque and broker-assigned
	EventID string
	Payload []byte
	Idle    time.Duration // time since last delivery attempt (0 for new messages)
}

// StreamBroker is the transport the worker and outbox publisher use
// to move envelopes from ingestion to event handlers. Implementations
// must be safe for concurrent use by a single worker instance.
type StreamBroker interface {
	// EnsureGroup creates stream and consumer group if absent. Callers
	// must treat "group already exists" as success (spec §4.5
	// Broker Bootstrap).
	EnsureGroup(ctx context.Context, stream, group string) error

	// Publish appends message to stream, with eventID carried as a
	// stream field for Ack/reclaim bookkeeping.
	Publish(ctx context.Context, stream string, eventID string, payload []byte) error

	// ReadNew reads up to count unseen messages for consumer in group,
	// blocking up to block before returning an empty result.
	ReadNew(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error)

	// ReadOwnPending reads up to count messages already delivered to
	// consumer but never acked, without blocking (spec §4.3.1 Startup
	// drain, id "0").
	ReadOwnPending(ctx context.Context, stream, group, consumer string, count int) ([]Message, error)

	// Ack acknowledges message IDs, removing them from the group's
	// pending entries list.
	Ack(ctx context.Context, stream, group string, ids ...string) error

	// AutoClaim reclaims up to count messages idle for at least
	// minIdle, starting from cursor ("0" on first call), assigning them
	// to consumer. Returns the messages and the next cursor to pass on
	// a subsequent call ("0" once the sweep is complete).
	AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int, cursor string) ([]Message, string, error)

	// PendingIDs lists up to count message IDs idle for at least
	// minIdle, for brokers lacking AutoClaim support (fallback path,
	// spec §4.3.2).
	PendingIDs(ctx context.Context, stream, group string, minIdle time.Duration, count int) ([]string, error)

	// Claim reassigns the given message IDs to consumer and returns
	// their current content, used after PendingIDs on the fallback path.
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error)
}
