// Package store defines the durable repositories backing the Event
// Store (component A) and Outbox Store (component B), plus a
// Postgres-backed implementation and an in-memory fake for tests.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
)

// EventStore is the durable table of event envelopes (component A).
// Implementations must classify failures with pkg/eventplatform/errs
// (errs.ErrConflict for unique-key violations, errs.ErrTransient for
// connectivity/timeout failures) so callers never see driver errors.
type EventStore interface {
	// Insert persists a brand-new envelope. Returns errs.ErrConflict
	// when (tenant_id, idempotency_key) already exists.
	Insert(ctx context.Context, e *eventplatform.Envelope) error

	// GetByID loads an envelope by primary key. Returns
	// errs.ErrNotFound when absent.
	GetByID(ctx context.Context, id uuid.UUID) (*eventplatform.Envelope, error)

	// GetByIdempotencyKey loads an envelope by (tenant_id, key).
	// Returns errs.ErrNotFound when absent.
	GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*eventplatform.Envelope, error)

	// UpdateStatus persists a lifecycle transition already applied
	// in-memory to e. Implementations write status, attempts,
	// next_attempt_at, and last_error atomically for e.ID.
	UpdateStatus(ctx context.Context, e *eventplatform.Envelope) error

	// DueForRetry returns FAILED_RETRYABLE rows whose next_attempt_at
	// has elapsed, for the retry scheduler, up to limit rows.
	DueForRetry(ctx context.Context, now time.Time, limit int) ([]*eventplatform.Envelope, error)
}

// OutboxStore is the durable staging table (component B).
type OutboxStore interface {
	// Insert persists a new outbox row. Callers are responsible for
	// running this in the same transaction as the paired
	// EventStore.Insert (see ingest.Service.Ingest).
	Insert(ctx context.Context, o *eventplatform.OutboxEntry) error

	// Unpublished returns up to limit unpublished rows ordered by
	// created_at ascending, for the outbox publisher's poll cycle.
	Unpublished(ctx context.Context, limit int) ([]*eventplatform.OutboxEntry, error)

	// MarkPublished records a successful broker write for id.
	MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error

	// RecordFailure increments publish_attempts and stores the error
	// for a row that failed to publish this cycle.
	RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error

	// DeletePublishedBefore deletes terminal (published) rows older
	// than cutoff, for the publisher's periodic prune step.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UnitOfWork runs fn within a single atomic transaction spanning both
// stores, committing on success and rolling back on error or panic.
// The Ingestion Endpoint uses this to write the envelope and its
// outbox row atomically (spec §4.1 step 3; §5 deadlock analysis: A is
// always written before B within the single transaction span).
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, events EventStore, outbox OutboxStore) error) error
}
