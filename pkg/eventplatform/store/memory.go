package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/errs"
)

// MemoryStore is an in-memory EventStore + OutboxStore + UnitOfWork,
// used by the publisher, worker, and retry scheduler unit tests in
// place of a Postgres fixture.
type MemoryStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*eventplatform.Envelope
	byKey  map[string]uuid.UUID // tenantID + "\x00" + idempotencyKey -> event ID
	outbox map[uuid.UUID]*eventplatform.OutboxEntry
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[uuid.UUID]*eventplatform.Envelope),
		byKey:  make(map[string]uuid.UUID),
		outbox: make(map[uuid.UUID]*eventplatform.OutboxEntry),
	}
}

func keyOf(tenantID, key string) string {
	return tenantID + "\x00" + key
}

func cloneEnvelope(e *eventplatform.Envelope) *eventplatform.Envelope {
	cp := *e
	return &cp
}

func cloneOutbox(o *eventplatform.OutboxEntry) *eventplatform.OutboxEntry {
	cp := *o
	return &cp
}

func (m *MemoryStore) Insert(ctx context.Context, e *eventplatform.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.events[e.ID]; exists {
		return errs.WithConflict("event already exists", nil)
	}
	if e.IdempotencyKey != nil {
		k := keyOf(e.TenantID, *e.IdempotencyKey)
		if _, exists := m.byKey[k]; exists {
			return errs.WithConflict("idempotency key already exists", nil)
		}
		m.byKey[k] = e.ID
	}
	m.events[e.ID] = cloneEnvelope(e)
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*eventplatform.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return nil, errs.WithNotFound("event not found", nil)
	}
	return cloneEnvelope(e), nil
}

func (m *MemoryStore) GetByIdempotencyKey(ctx context.Context, tenantID, key string) (*eventplatform.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[keyOf(tenantID, key)]
	if !ok {
		return nil, errs.WithNotFound("event not found", nil)
	}
	return cloneEnvelope(m.events[id]), nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, e *eventplatform.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.events[e.ID]; !ok {
		return errs.WithNotFound("event not found", nil)
	}
	m.events[e.ID] = cloneEnvelope(e)
	return nil
}

func (m *MemoryStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*eventplatform.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*eventplatform.Envelope
	for _, e := range m.events {
		if e.Status != eventplatform.StatusFailedRetryable {
			continue
		}
		if e.NextAttemptAt == nil || e.NextAttemptAt.After(now) {
			continue
		}
		out = append(out, cloneEnvelope(e))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// InsertOutboxEntry persists o. Named distinctly from Insert because
// MemoryStore also implements EventStore.Insert on the same receiver.
func (m *MemoryStore) InsertOutboxEntry(ctx context.Context, o *eventplatform.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.outbox[o.ID]; exists {
		return errs.WithConflict("outbox row already exists", nil)
	}
	m.outbox[o.ID] = cloneOutbox(o)
	return nil
}

func (m *MemoryStore) Unpublished(ctx context.Context, limit int) ([]*eventplatform.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*eventplatform.OutboxEntry
	for _, o := range m.outbox {
		if o.PublishedAt != nil {
			continue
		}
		out = append(out, cloneOutbox(o))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outbox[id]
	if !ok {
		return errs.WithNotFound("outbox row not found", nil)
	}
	o.PublishedAt = &publishedAt
	o.LastError = nil
	return nil
}

func (m *MemoryStore) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outbox[id]
	if !ok {
		return errs.WithNotFound("outbox row not found", nil)
	}
	o.PublishAttempts++
	o.LastError = &errMsg
	return nil
}

func (m *MemoryStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, o := range m.outbox {
		if o.PublishedAt != nil && o.PublishedAt.Before(cutoff) {
			delete(m.outbox, id)
			n++
		}
	}
	return n, nil
}

// Do runs fn directly against this same store with no transaction and
// no rollback: writes fn made before returning an error stay in the
// store, so a failed fn can leave an event without its outbox row.
// Insert still rejects duplicates.
func (m *MemoryStore) Do(ctx context.Context, fn func(ctx context.Context, events EventStore, outbox OutboxStore) error) error {
	return fn(ctx, memoryEventStore{m}, memoryOutboxStore{m})
}

// memoryEventStore and memoryOutboxStore narrow MemoryStore to a
// single interface each, since MemoryStore.Insert is ambiguous between
// EventStore and OutboxStore.
type memoryEventStore struct{ *MemoryStore }

func (s memoryEventStore) Insert(ctx context.Context, e *eventplatform.Envelope) error {
	return s.MemoryStore.Insert(ctx, e)
}

type memoryOutboxStore struct{ *MemoryStore }

func (s memoryOutboxStore) Insert(ctx context.Context, o *eventplatform.OutboxEntry) error {
	return s.MemoryStore.InsertOutboxEntry(ctx, o)
}

// Events exposes m as a standalone EventStore, for tests that exercise
// the worker or retry scheduler without going through Do.
func (m *MemoryStore) Events() EventStore { return memoryEventStore{m} }

// Outbox exposes m as a standalone OutboxStore, for tests that
// exercise the outbox publisher without going through Do.
func (m *MemoryStore) Outbox() OutboxStore { return memoryOutboxStore{m} }

var (
	_ EventStore  = memoryEventStore{}
	_ OutboxStore = memoryOutboxStore{}
	_ EventStore  = (*MemoryStore)(nil)
	_ UnitOfWork  = (*MemoryStore)(nil)
)
