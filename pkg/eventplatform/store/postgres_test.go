package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/errs"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func sampleEnvelope() *eventplatform.Envelope {
	key := "order-123"
	now := time.Now().UTC()
	return &eventplatform.Envelope{
		ID:            uuid.New(),
		TenantID:      "tenant-a",
		EventType:     "order.created",
		OccurredAt:    now,
		ReceivedAt:    now,
		Source:        "checkout-service",
		IdempotencyKey: &key,
		CorrelationID: uuid.New(),
		Payload:       []byte(`{"amount":100}`),
		Status:        eventplatform.StatusReceived,
	}
}

func TestPostgresEventStore_Insert_Success(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresEventStore(db)
	e := sampleEnvelope()

	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Insert(context.Background(), e)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEventStore_Insert_UniqueViolationIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresEventStore(db)
	e := sampleEnvelope()

	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	mock.ExpectExec("INSERT INTO events").WillReturnError(pgErr)

	err := s.Insert(context.Background(), e)
	require.Error(t, err)
	assert.True(t, errs.Conflict(err))
}

func TestPostgresEventStore_Insert_ConnectionFailureIsTransient(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresEventStore(db)
	e := sampleEnvelope()

	pgErr := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	mock.ExpectExec("INSERT INTO events").WillReturnError(pgErr)

	err := s.Insert(context.Background(), e)
	require.Error(t, err)
	assert.True(t, errs.Transient(err))
}

func TestPostgresEventStore_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresEventStore(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT .* FROM events WHERE id").
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetByID(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errs.NotFound(err))
}

func TestPostgresEventStore_GetByID_Found(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresEventStore(db)
	e := sampleEnvelope()

	cols := []string{"id", "tenant_id", "event_type", "occurred_at", "received_at", "source",
		"idempotency_key", "correlation_id", "payload", "status", "attempts",
		"next_attempt_at", "last_error"}
	rows := sqlmock.NewRows(cols).AddRow(
		e.ID, e.TenantID, e.EventType, e.OccurredAt, e.ReceivedAt, e.Source,
		e.IdempotencyKey, e.CorrelationID, []byte(e.Payload), string(e.Status), e.Attempts,
		e.NextAttemptAt, e.LastError,
	)
	mock.ExpectQuery("SELECT .* FROM events WHERE id").WithArgs(e.ID).WillReturnRows(rows)

	got, err := s.GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.TenantID, got.TenantID)
	assert.Equal(t, eventplatform.StatusReceived, got.Status)
}

func TestPostgresEventStore_UpdateStatus_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresEventStore(db)
	e := sampleEnvelope()

	mock.ExpectExec("UPDATE events").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateStatus(context.Background(), e)
	require.Error(t, err)
	assert.True(t, errs.NotFound(err))
}

func TestPostgresOutboxStore_Insert_UniqueViolationIsConflict(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOutboxStore(db)
	entry, err := eventplatform.NewOutboxEntry(uuid.New(), "events:ingested", sampleEnvelope().Snapshot())
	require.NoError(t, err)

	pgErr := &pgconn.PgError{Code: "23505"}
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(pgErr)

	err = s.Insert(context.Background(), entry)
	require.Error(t, err)
	assert.True(t, errs.Conflict(err))
}

func TestPostgresOutboxStore_DeletePublishedBefore(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostgresOutboxStore(db)

	mock.ExpectExec("DELETE FROM outbox").WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeletePublishedBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestPostgresUnitOfWork_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	u := NewPostgresUnitOfWork(db)
	e := sampleEnvelope()
	entry, err := eventplatform.NewOutboxEntry(e.ID, "events:ingested", e.Snapshot())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = u.Do(context.Background(), func(ctx context.Context, events EventStore, outbox OutboxStore) error {
		if err := events.Insert(ctx, e); err != nil {
			return err
		}
		return outbox.Insert(ctx, entry)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUnitOfWork_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	u := NewPostgresUnitOfWork(db)
	e := sampleEnvelope()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := u.Do(context.Background(), func(ctx context.Context, events EventStore, outbox OutboxStore) error {
		return events.Insert(ctx, e)
	})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
