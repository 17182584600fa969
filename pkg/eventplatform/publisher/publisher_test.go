package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/broker"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
)

func newOutboxRow(t *testing.T) *eventplatform.OutboxEntry {
	t.Helper()
	e := &eventplatform.Envelope{
		ID:         uuid.New(),
		TenantID:   "tenant-a",
		EventType:  "user.created",
		Source:     "svc",
		OccurredAt: time.Now().UTC(),
		ReceivedAt: time.Now().UTC(),
		Status:     eventplatform.StatusQueued,
	}
	e.CorrelationID = uuid.New()
	entry, err := eventplatform.NewOutboxEntry(e.ID, "events:ingested", e.Snapshot())
	require.NoError(t, err)
	return entry
}

func TestRunOnce_PublishesUnpublishedRows(t *testing.T) {
	mem := store.NewMemoryStore()
	b := broker.NewMemoryBroker()
	require.NoError(t, b.EnsureGroup(context.Background(), "events:ingested", "workers"))

	entry := newOutboxRow(t)
	require.NoError(t, mem.Outbox().Insert(context.Background(), entry))

	p := New(mem.Outbox(), b, Config{})
	p.RunOnce(context.Background())

	unpub, err := mem.Outbox().Unpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, unpub)

	msgs, err := b.ReadNew(context.Background(), "events:ingested", "workers", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, entry.EventID.String(), msgs[0].EventID)
}

type failingBroker struct {
	broker.StreamBroker
}

func (failingBroker) Publish(ctx context.Context, stream, eventID string, payload []byte) error {
	return assert.AnError
}

func TestRunOnce_BrokerFailureRecordsAndLeavesRowEligible(t *testing.T) {
	mem := store.NewMemoryStore()
	entry := newOutboxRow(t)
	require.NoError(t, mem.Outbox().Insert(context.Background(), entry))

	p := New(mem.Outbox(), failingBroker{}, Config{})
	p.RunOnce(context.Background())

	unpub, err := mem.Outbox().Unpublished(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, unpub, 1)
	assert.Equal(t, 1, unpub[0].PublishAttempts)
	require.NotNil(t, unpub[0].LastError)
}

func TestRunOnce_PrunesOldPublishedRowsEveryConfiguredCycles(t *testing.T) {
	mem := store.NewMemoryStore()
	b := broker.NewMemoryBroker()
	require.NoError(t, b.EnsureGroup(context.Background(), "events:ingested", "workers"))

	entry := newOutboxRow(t)
	require.NoError(t, mem.Outbox().Insert(context.Background(), entry))
	require.NoError(t, mem.Outbox().MarkPublished(context.Background(), entry.ID, time.Now().Add(-48*time.Hour)))

	p := New(mem.Outbox(), b, Config{PruneEveryCycle: 2, PruneRetention: 24 * time.Hour})
	p.RunOnce(context.Background())
	remaining, err := mem.Outbox().Unpublished(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, remaining) // already published, so not "unpublished" either way

	p.RunOnce(context.Background())

	n, err := mem.Outbox().DeletePublishedBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "row should already have been pruned by the second cycle")
}
