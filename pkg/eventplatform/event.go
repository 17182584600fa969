// Package eventplatform implements the reliability core of the
// multi-tenant event ingestion platform: the durable event envelope,
// its lifecycle state machine, and the outbox entry that decouples
// commit from publish. Subpackages (store, broker, ingest, publisher,
// worker, retryscheduler) build on these shared types.
package eventplatform

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is a position in the event lifecycle (see Lifecycle, below).
type Status string

const (
	StatusReceived        Status = "RECEIVED"
	StatusQueued          Status = "QUEUED"
	StatusProcessing      Status = "PROCESSING"
	StatusSucceeded       Status = "SUCCEEDED"
	StatusFailedRetryable Status = "FAILED_RETRYABLE"
	StatusFailedTerminal  Status = "FAILED_TERMINAL"
)

// Envelope is the durable record of a single submitted business event.
// Column names mirror the persisted schema 1:1 (see store.EventStore).
type Envelope struct {
	ID             uuid.UUID
	TenantID       string
	EventType      string
	OccurredAt     time.Time
	ReceivedAt     time.Time
	Source         string
	IdempotencyKey *string
	CorrelationID  uuid.UUID
	Payload        json.RawMessage
	Status         Status
	Attempts       int
	NextAttemptAt  *time.Time
	LastError      *string
}

// Validate checks the invariants carried by both storage and the
// domain model (spec §3). It does not check lifecycle transitions —
// see Lifecycle.Transition for that.
func (e *Envelope) Validate() error {
	if e.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Source == "" {
		return fmt.Errorf("source is required")
	}
	if e.CorrelationID == uuid.Nil {
		return fmt.Errorf("correlation_id is required")
	}
	if e.OccurredAt.After(e.ReceivedAt) {
		return fmt.Errorf("occurred_at %s must not be after received_at %s", e.OccurredAt, e.ReceivedAt)
	}
	if e.Attempts < 0 {
		return fmt.Errorf("attempts must be non-negative, got %d", e.Attempts)
	}
	if (e.NextAttemptAt != nil) != (e.Status == StatusFailedRetryable) {
		return fmt.Errorf("next_attempt_at must be set if and only if status is FAILED_RETRYABLE")
	}
	if e.NextAttemptAt != nil && e.NextAttemptAt.Before(e.ReceivedAt) {
		return fmt.Errorf("next_attempt_at must not be before received_at")
	}
	if e.Status == StatusSucceeded && e.LastError != nil {
		return fmt.Errorf("succeeded events must not carry a last_error")
	}
	if e.IdempotencyKey != nil && *e.IdempotencyKey == "" {
		return fmt.Errorf("idempotency_key must not be blank when present")
	}
	return nil
}

// Snapshot is the byte-faithful wire representation written to the
// outbox payload and to the broker message's "message" field.
type Snapshot struct {
	EventID        uuid.UUID       `json:"event_id"`
	TenantID       string          `json:"tenant_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	ReceivedAt     time.Time       `json:"received_at"`
	Source         string          `json:"source"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	CorrelationID  uuid.UUID       `json:"correlation_id"`
	Payload        json.RawMessage `json:"payload"`
	Status         Status          `json:"status"`
}

// Snapshot captures the envelope as of the moment it is called, for
// publication to the outbox/broker. The payload is never reshaped.
func (e *Envelope) Snapshot() Snapshot {
	return Snapshot{
		EventID:        e.ID,
		TenantID:       e.TenantID,
		EventType:      e.EventType,
		OccurredAt:     e.OccurredAt,
		ReceivedAt:     e.ReceivedAt,
		Source:         e.Source,
		IdempotencyKey: e.IdempotencyKey,
		CorrelationID:  e.CorrelationID,
		Payload:        e.Payload,
		Status:         e.Status,
	}
}
