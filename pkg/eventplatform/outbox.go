package eventplatform

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEntry is a durable staging row that decouples the ingestion
// commit from the eventual broker publish (spec §3, Outbox Entry).
type OutboxEntry struct {
	ID              uuid.UUID
	EventID         uuid.UUID
	StreamName      string
	Payload         json.RawMessage
	CreatedAt       time.Time
	PublishedAt     *time.Time
	PublishAttempts int
	LastError       *string
}

// Eligible reports whether the row is still awaiting publish.
func (o *OutboxEntry) Eligible() bool {
	return o.PublishedAt == nil
}

// NewOutboxEntry builds the outbox row paired with snapshot at
// ingestion time. The row and the event it references are always
// written in the same transaction (spec §4.1 step 3).
func NewOutboxEntry(eventID uuid.UUID, streamName string, snapshot Snapshot) (*OutboxEntry, error) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return nil, err
	}
	return &OutboxEntry{
		ID:         uuid.New(),
		EventID:    eventID,
		StreamName: streamName,
		Payload:    payload,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
