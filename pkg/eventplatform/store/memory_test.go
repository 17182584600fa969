package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/errs"
)

func TestMemoryStore_InsertAndGetByID(t *testing.T) {
	m := NewMemoryStore()
	e := sampleEnvelope()

	require.NoError(t, m.Events().Insert(context.Background(), e))

	got, err := m.Events().GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.TenantID, got.TenantID)
}

func TestMemoryStore_DuplicateIdempotencyKeyConflicts(t *testing.T) {
	m := NewMemoryStore()
	e1 := sampleEnvelope()
	e2 := sampleEnvelope()
	e2.IdempotencyKey = e1.IdempotencyKey
	e2.TenantID = e1.TenantID

	require.NoError(t, m.Events().Insert(context.Background(), e1))
	err := m.Events().Insert(context.Background(), e2)
	require.Error(t, err)
	assert.True(t, errs.Conflict(err))
}

func TestMemoryStore_GetByIdempotencyKey_NotFound(t *testing.T) {
	m := NewMemoryStore()
	_, err := m.Events().GetByIdempotencyKey(context.Background(), "tenant-a", "missing")
	require.Error(t, err)
	assert.True(t, errs.NotFound(err))
}

func TestMemoryStore_DueForRetry(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	due := sampleEnvelope()
	due.Status = eventplatform.StatusFailedRetryable
	due.NextAttemptAt = &past

	notDue := sampleEnvelope()
	notDue.Status = eventplatform.StatusFailedRetryable
	notDue.NextAttemptAt = &future

	require.NoError(t, m.Events().Insert(context.Background(), due))
	require.NoError(t, m.Events().Insert(context.Background(), notDue))

	got, err := m.Events().DueForRetry(context.Background(), now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestMemoryStore_OutboxLifecycle(t *testing.T) {
	m := NewMemoryStore()
	e := sampleEnvelope()
	entry, err := eventplatform.NewOutboxEntry(e.ID, "events:ingested", e.Snapshot())
	require.NoError(t, err)

	require.NoError(t, m.Outbox().Insert(context.Background(), entry))

	unpub, err := m.Outbox().Unpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unpub, 1)

	require.NoError(t, m.Outbox().MarkPublished(context.Background(), entry.ID, time.Now()))

	unpub, err = m.Outbox().Unpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, unpub)
}

func TestMemoryStore_Do_AtomicEventAndOutboxInsert(t *testing.T) {
	m := NewMemoryStore()
	e := sampleEnvelope()
	entry, err := eventplatform.NewOutboxEntry(e.ID, "events:ingested", e.Snapshot())
	require.NoError(t, err)

	err = m.Do(context.Background(), func(ctx context.Context, events EventStore, outbox OutboxStore) error {
		if err := events.Insert(ctx, e); err != nil {
			return err
		}
		return outbox.Insert(ctx, entry)
	})
	require.NoError(t, err)

	got, err := m.Events().GetByID(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.ID, got.ID)
}

func TestMemoryStore_DeletePublishedBefore(t *testing.T) {
	m := NewMemoryStore()
	e := sampleEnvelope()
	entry, err := eventplatform.NewOutboxEntry(uuid.New(), "events:ingested", e.Snapshot())
	require.NoError(t, err)
	require.NoError(t, m.Outbox().Insert(context.Background(), entry))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, m.Outbox().MarkPublished(context.Background(), entry.ID, old))

	n, err := m.Outbox().DeletePublishedBefore(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
