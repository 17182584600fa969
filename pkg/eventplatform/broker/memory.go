package broker

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryBroker is an in-process StreamBroker used by publisher and
// worker unit tests in place of a Redis fixture. It models a single
// stream per name with one consumer group per (stream, group) pair.
type MemoryBroker struct {
	mu      sync.Mutex
	streams map[string][]*entry
	groups  map[string]map[string]*groupState // stream -> group -> state
	seq     int
}

type entry struct {
	id        string
	eventID   string
	payload   []byte
	createdAt time.Time
}

type pendingEntry struct {
	entry    *entry
	consumer string
	since    time.Time
}

type groupState struct {
	lastRead string   // ID of the last stream entry already delivered as "new"
	pending  []string // ordered pending entry IDs
	byID     map[string]*pendingEntry
}

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		streams: make(map[string][]*entry),
		groups:  make(map[string]map[string]*groupState),
	}
}

func (b *MemoryBroker) EnsureGroup(ctx context.Context, stream, group string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[stream]; !ok {
		b.streams[stream] = nil
	}
	if _, ok := b.groups[stream]; !ok {
		b.groups[stream] = make(map[string]*groupState)
	}
	if _, ok := b.groups[stream][group]; !ok {
		b.groups[stream][group] = &groupState{lastRead: "", byID: make(map[string]*pendingEntry)}
	}
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, stream string, eventID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	e := &entry{id: formatID(b.seq), eventID: eventID, payload: payload, createdAt: time.Now()}
	b.streams[stream] = append(b.streams[stream], e)
	return nil
}

func formatID(seq int) string {
	const base = "0000000000000"
	s := base
	digits := []byte{}
	for n := seq; n > 0; n /= 10 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
	}
	if len(digits) == 0 {
		digits = []byte{'0'}
	}
	return s[:len(s)-len(digits)] + string(digits) + "-0"
}

func (b *MemoryBroker) ReadNew(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.groupStateLocked(stream, group)
	entries := b.streams[stream]

	start := 0
	for i, e := range entries {
		if e.id == gs.lastRead {
			start = i + 1
			break
		}
	}

	var out []Message
	for _, e := range entries[start:] {
		if len(out) >= count {
			break
		}
		gs.lastRead = e.id
		gs.pending = append(gs.pending, e.id)
		gs.byID[e.id] = &pendingEntry{entry: e, consumer: consumer, since: time.Now()}
		out = append(out, Message{ID: e.id, EventID: e.eventID, Payload: e.payload})
	}
	return out, nil
}

func (b *MemoryBroker) ReadOwnPending(ctx context.Context, stream, group, consumer string, count int) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.groupStateLocked(stream, group)
	var out []Message
	for _, id := range gs.pending {
		if len(out) >= count {
			break
		}
		p, ok := gs.byID[id]
		if !ok || p.consumer != consumer {
			continue
		}
		out = append(out, Message{ID: p.entry.id, EventID: p.entry.eventID, Payload: p.entry.payload, Idle: time.Since(p.since)})
	}
	return out, nil
}

func (b *MemoryBroker) Ack(ctx context.Context, stream, group string, ids ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.groupStateLocked(stream, group)
	toRemove := make(map[string]bool, len(ids))
	for _, id := range ids {
		delete(gs.byID, id)
		toRemove[id] = true
	}
	kept := gs.pending[:0]
	for _, id := range gs.pending {
		if !toRemove[id] {
			kept = append(kept, id)
		}
	}
	gs.pending = kept
	return nil
}

func (b *MemoryBroker) AutoClaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int, cursor string) ([]Message, string, error) {
	ids, err := b.PendingIDs(ctx, stream, group, minIdle, count)
	if err != nil {
		return nil, "0", err
	}
	msgs, err := b.Claim(ctx, stream, group, consumer, minIdle, ids...)
	if err != nil {
		return nil, "0", err
	}
	return msgs, "0", nil
}

func (b *MemoryBroker) PendingIDs(ctx context.Context, stream, group string, minIdle time.Duration, count int) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.groupStateLocked(stream, group)
	var ids []string
	for _, id := range gs.pending {
		p, ok := gs.byID[id]
		if !ok || time.Since(p.since) < minIdle {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) > count {
		ids = ids[:count]
	}
	return ids, nil
}

func (b *MemoryBroker) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids ...string) ([]Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	gs := b.groupStateLocked(stream, group)
	var out []Message
	for _, id := range ids {
		p, ok := gs.byID[id]
		if !ok {
			continue
		}
		p.consumer = consumer
		p.since = time.Now()
		out = append(out, Message{ID: p.entry.id, EventID: p.entry.eventID, Payload: p.entry.payload, Idle: minIdle})
	}
	return out, nil
}

func (b *MemoryBroker) groupStateLocked(stream, group string) *groupState {
	if _, ok := b.groups[stream]; !ok {
		b.groups[stream] = make(map[string]*groupState)
	}
	gs, ok := b.groups[stream][group]
	if !ok {
		gs = &groupState{byID: make(map[string]*pendingEntry)}
		b.groups[stream][group] = gs
	}
	return gs
}

var _ StreamBroker = (*MemoryBroker)(nil)
