package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBroker_PublishAndReadNew(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "s", "g"))
	require.NoError(t, b.Publish(ctx, "s", "evt-1", []byte("payload-1")))

	msgs, err := b.ReadNew(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "evt-1", msgs[0].EventID)
	assert.Equal(t, []byte("payload-1"), msgs[0].Payload)

	more, err := b.ReadNew(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, more)
}

func TestMemoryBroker_AckRemovesFromPending(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "s", "g"))
	require.NoError(t, b.Publish(ctx, "s", "evt-1", []byte("p")))

	msgs, err := b.ReadNew(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, b.Ack(ctx, "s", "g", msgs[0].ID))

	pending, err := b.ReadOwnPending(ctx, "s", "g", "c1", 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMemoryBroker_ReadOwnPendingBeforeAck(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "s", "g"))
	require.NoError(t, b.Publish(ctx, "s", "evt-1", []byte("p")))

	_, err := b.ReadNew(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)

	pending, err := b.ReadOwnPending(ctx, "s", "g", "c1", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "evt-1", pending[0].EventID)
}

func TestMemoryBroker_AutoClaimReassignsIdleMessages(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "s", "g"))
	require.NoError(t, b.Publish(ctx, "s", "evt-1", []byte("p")))

	_, err := b.ReadNew(ctx, "s", "g", "dead-consumer", 10, 0)
	require.NoError(t, err)

	claimed, _, err := b.AutoClaim(ctx, "s", "g", "rescuer", 0, 10, "0")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "evt-1", claimed[0].EventID)

	pending, err := b.ReadOwnPending(ctx, "s", "g", "rescuer", 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestMemoryBroker_PendingIDsRespectsMinIdle(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "s", "g"))
	require.NoError(t, b.Publish(ctx, "s", "evt-1", []byte("p")))

	_, err := b.ReadNew(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)

	ids, err := b.PendingIDs(ctx, "s", "g", time.Hour, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = b.PendingIDs(ctx, "s", "g", 0, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestMemoryBroker_MultipleGroupsIndependentCursors(t *testing.T) {
	b := NewMemoryBroker()
	ctx := context.Background()
	require.NoError(t, b.EnsureGroup(ctx, "s", "g1"))
	require.NoError(t, b.EnsureGroup(ctx, "s", "g2"))
	require.NoError(t, b.Publish(ctx, "s", "evt-1", []byte("p")))

	msgs1, err := b.ReadNew(ctx, "s", "g1", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs1, 1)

	msgs2, err := b.ReadNew(ctx, "s", "g2", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs2, 1)
}
