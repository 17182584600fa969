package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/errs"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting the
// Postgres stores run either standalone or inside a UnitOfWork.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresEventStore implements store.EventStore over database/sql
// using the pgx stdlib driver, grounded on the connection-handling
// style of pkg/dbmanager/providers/postgres.go.
type PostgresEventStore struct {
	q querier
}

// NewPostgresEventStore builds a standalone event store over db.
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{q: db}
}

func (s *PostgresEventStore) Insert(ctx context.Context, e *eventplatform.Envelope) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO events (
			id, tenant_id, event_type, occurred_at, received_at, source,
			idempotency_key, correlation_id, payload, status, attempts,
			next_attempt_at, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, e.ID, e.TenantID, e.EventType, e.OccurredAt, e.ReceivedAt, e.Source,
		e.IdempotencyKey, e.CorrelationID, []byte(e.Payload), string(e.Status), e.Attempts,
		e.NextAttemptAt, e.LastError)
	if err != nil {
		if errs.IsUniqueViolation(err) {
			return errs.WithConflict("event idempotency conflict", err)
		}
		if errs.Transient(err) {
			return errs.WithTransient("insert event", err)
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *PostgresEventStore) GetByID(ctx context.Context, id uuid.UUID) (*eventplatform.Envelope, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, event_type, occurred_at, received_at, source,
			idempotency_key, correlation_id, payload, status, attempts,
			next_attempt_at, last_error
		FROM events WHERE id = $1
	`, id)
	return scanEnvelope(row)
}

func (s *PostgresEventStore) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*eventplatform.Envelope, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, event_type, occurred_at, received_at, source,
			idempotency_key, correlation_id, payload, status, attempts,
			next_attempt_at, last_error
		FROM events WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key)
	return scanEnvelope(row)
}

func (s *PostgresEventStore) UpdateStatus(ctx context.Context, e *eventplatform.Envelope) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE events
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5
		WHERE id = $1
	`, e.ID, string(e.Status), e.Attempts, e.NextAttemptAt, e.LastError)
	if err != nil {
		if errs.Transient(err) {
			return errs.WithTransient("update event status", err)
		}
		return fmt.Errorf("update event status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return errs.WithNotFound("event not found", nil)
	}
	return nil
}

func (s *PostgresEventStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*eventplatform.Envelope, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, tenant_id, event_type, occurred_at, received_at, source,
			idempotency_key, correlation_id, payload, status, attempts,
			next_attempt_at, last_error
		FROM events
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`, string(eventplatform.StatusFailedRetryable), now, limit)
	if err != nil {
		if errs.Transient(err) {
			return nil, errs.WithTransient("query due retries", err)
		}
		return nil, fmt.Errorf("query due retries: %w", err)
	}
	defer rows.Close()

	var out []*eventplatform.Envelope
	for rows.Next() {
		e, err := scanEnvelopeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvelope(row rowScanner) (*eventplatform.Envelope, error) {
	e, err := scanEnvelopeRows(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.WithNotFound("event not found", err)
		}
		return nil, err
	}
	return e, nil
}

func scanEnvelopeRows(row rowScanner) (*eventplatform.Envelope, error) {
	var e eventplatform.Envelope
	var status string
	var payload []byte
	if err := row.Scan(
		&e.ID, &e.TenantID, &e.EventType, &e.OccurredAt, &e.ReceivedAt, &e.Source,
		&e.IdempotencyKey, &e.CorrelationID, &payload, &status, &e.Attempts,
		&e.NextAttemptAt, &e.LastError,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		if errs.Transient(err) {
			return nil, errs.WithTransient("scan event", err)
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Status = eventplatform.Status(status)
	e.Payload = json.RawMessage(payload)
	return &e, nil
}

// PostgresOutboxStore implements store.OutboxStore over database/sql.
type PostgresOutboxStore struct {
	q querier
}

// NewPostgresOutboxStore builds a standalone outbox store over db.
func NewPostgresOutboxStore(db *sql.DB) *PostgresOutboxStore {
	return &PostgresOutboxStore{q: db}
}

func (s *PostgresOutboxStore) Insert(ctx context.Context, o *eventplatform.OutboxEntry) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO outbox (
			id, event_id, stream_name, payload, created_at, published_at,
			publish_attempts, last_error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, o.ID, o.EventID, o.StreamName, []byte(o.Payload), o.CreatedAt, o.PublishedAt,
		o.PublishAttempts, o.LastError)
	if err != nil {
		if errs.IsUniqueViolation(err) {
			return errs.WithConflict("outbox row conflict", err)
		}
		if errs.Transient(err) {
			return errs.WithTransient("insert outbox row", err)
		}
		return fmt.Errorf("insert outbox row: %w", err)
	}
	return nil
}

func (s *PostgresOutboxStore) Unpublished(ctx context.Context, limit int) ([]*eventplatform.OutboxEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, event_id, stream_name, payload, created_at, published_at,
			publish_attempts, last_error
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		if errs.Transient(err) {
			return nil, errs.WithTransient("query unpublished outbox rows", err)
		}
		return nil, fmt.Errorf("query unpublished outbox rows: %w", err)
	}
	defer rows.Close()

	var out []*eventplatform.OutboxEntry
	for rows.Next() {
		var o eventplatform.OutboxEntry
		var payload []byte
		if err := rows.Scan(&o.ID, &o.EventID, &o.StreamName, &payload, &o.CreatedAt,
			&o.PublishedAt, &o.PublishAttempts, &o.LastError); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		o.Payload = json.RawMessage(payload)
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (s *PostgresOutboxStore) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE outbox SET published_at = $2, last_error = NULL WHERE id = $1
	`, id, publishedAt)
	if err != nil {
		if errs.Transient(err) {
			return errs.WithTransient("mark outbox row published", err)
		}
		return fmt.Errorf("mark outbox row published: %w", err)
	}
	return nil
}

func (s *PostgresOutboxStore) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.q.ExecContext(ctx, `
		UPDATE outbox SET publish_attempts = publish_attempts + 1, last_error = $2 WHERE id = $1
	`, id, errMsg)
	if err != nil {
		if errs.Transient(err) {
			return errs.WithTransient("record outbox publish failure", err)
		}
		return fmt.Errorf("record outbox publish failure: %w", err)
	}
	return nil
}

func (s *PostgresOutboxStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < $1
	`, cutoff)
	if err != nil {
		if errs.Transient(err) {
			return 0, errs.WithTransient("prune published outbox rows", err)
		}
		return 0, fmt.Errorf("prune published outbox rows: %w", err)
	}
	return res.RowsAffected()
}

// PostgresUnitOfWork spans Event Store + Outbox Store writes in a
// single transaction (spec §4.1 step 3, §5 deadlock analysis: A is
// always written before B within this fixed-order transaction).
type PostgresUnitOfWork struct {
	db *sql.DB
}

// NewPostgresUnitOfWork wraps db for atomic ingest writes.
func NewPostgresUnitOfWork(db *sql.DB) *PostgresUnitOfWork {
	return &PostgresUnitOfWork{db: db}
}

func (u *PostgresUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, events EventStore, outbox OutboxStore) error) error {
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		if errs.Transient(err) {
			return errs.WithTransient("begin transaction", err)
		}
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				logger.Warn("failed to roll back transaction: %v", rbErr)
			}
		}
	}()

	events := &PostgresEventStore{q: tx}
	outbox := &PostgresOutboxStore{q: tx}

	if err := fn(ctx, events, outbox); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if errs.Transient(err) {
			return errs.WithTransient("commit transaction", err)
		}
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
