// Package ingest implements the Ingestion Endpoint (component D): the
// single ingest(request) -> response operation that normalizes a
// submitted event, resolves idempotency, and writes the envelope and
// its outbox row atomically.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bitechdev/ResolveSpec/pkg/cache"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/errs"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
	"github.com/bitechdev/ResolveSpec/pkg/tracing"
)

// idempotencyCacheTTL bounds how long a resolved idempotency-key
// lookup is trusted before falling back to Postgres, so a later
// correction (e.g. a row that progresses past RECEIVED) is not
// masked for too long.
const idempotencyCacheTTL = 30 * time.Second

type cachedIdempotencyResult struct {
	EventID uuid.UUID            `json:"event_id"`
	Status  eventplatform.Status `json:"status"`
}

func idempotencyCacheKey(tenantID, key string) string {
	return "eventflow:idemp:" + tenantID + ":" + key
}

// Outcome classifies the result of Ingest for the HTTP layer.
type Outcome string

const (
	OutcomeAccepted           Outcome = "accepted"
	OutcomeOK                Outcome = "ok"
	OutcomeValidationProblem Outcome = "validation-problem"
	OutcomeConflict           Outcome = "conflict"
	OutcomeInternalError      Outcome = "internal-error"
)

// Request is the normalized command passed to Ingest, already resolved
// from body + header precedence (see Normalize).
type Request struct {
	EventID        uuid.UUID
	TenantID       string
	EventType      string
	OccurredAt     time.Time
	Source         string
	IdempotencyKey *string
	CorrelationID  uuid.UUID
	Payload        json.RawMessage
}

// Result is returned by Ingest for the HTTP layer to translate into a
// status code and body (spec §4.1 response contract).
type Result struct {
	Outcome             Outcome
	EventID             uuid.UUID
	Status              eventplatform.Status
	IdempotencyReplayed bool
	ValidationErrors    map[string]string
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator abstracts uuid.New for deterministic tests.
type IDGenerator interface {
	NewID() uuid.UUID
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() uuid.UUID { return uuid.New() }

// Service implements the Ingestion Endpoint.
type Service struct {
	uow               store.UnitOfWork
	streamName        string
	allowedEventTypes map[string]bool
	production        bool
	clock             Clock
	ids               IDGenerator
	idempCache        cache.Provider
}

// Config configures a Service.
type Config struct {
	StreamName        string
	AllowedEventTypes []string
	Production        bool
	Clock             Clock
	IDs               IDGenerator

	// IdempotencyCache, when set, is consulted before re-querying
	// Postgres for a replayed idempotency key, to absorb retry storms
	// from clients that resend the same request faster than the
	// original request commits.
	IdempotencyCache cache.Provider
}

// NewService builds a Service. When cfg.Production is true and
// AllowedEventTypes is empty, NewService returns an error (spec §4.1
// "in production the allow-list must be non-empty").
func NewService(uow store.UnitOfWork, cfg Config) (*Service, error) {
	if cfg.Production && len(cfg.AllowedEventTypes) == 0 {
		return nil, errors.New("ingestion: allowed_event_types must be non-empty in production")
	}
	allowed := make(map[string]bool, len(cfg.AllowedEventTypes))
	for _, t := range cfg.AllowedEventTypes {
		allowed[t] = true
	}
	clock := cfg.Clock
	if clock == nil {
		clock = systemClock{}
	}
	ids := cfg.IDs
	if ids == nil {
		ids = uuidGenerator{}
	}
	return &Service{
		uow:               uow,
		streamName:        cfg.StreamName,
		allowedEventTypes: allowed,
		production:        cfg.Production,
		idempCache:        cfg.IdempotencyCache,
		clock:             clock,
		ids:               ids,
	}, nil
}

func (s *Service) typeAllowed(eventType string) bool {
	if len(s.allowedEventTypes) == 0 {
		return !s.production
	}
	return s.allowedEventTypes[eventType]
}

// Ingest runs the algorithm of spec §4.1 steps 1-5.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Ingest",
		attribute.String("tenant_id", req.TenantID),
		attribute.String("event_type", req.EventType),
	)
	defer span.End()

	if verrs := s.validate(req); len(verrs) > 0 {
		return Result{Outcome: OutcomeValidationProblem, ValidationErrors: verrs}, nil
	}

	eventID := req.EventID
	if eventID == uuid.Nil {
		eventID = s.ids.NewID()
	}
	correlationID := req.CorrelationID
	if correlationID == uuid.Nil {
		correlationID = s.ids.NewID()
	}

	now := s.clock.Now()
	envelope := &eventplatform.Envelope{
		ID:             eventID,
		TenantID:       req.TenantID,
		EventType:      req.EventType,
		OccurredAt:     req.OccurredAt,
		ReceivedAt:     now,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		CorrelationID:  correlationID,
		Payload:        req.Payload,
		Status:         eventplatform.StatusReceived,
	}
	if err := envelope.Validate(); err != nil {
		return Result{Outcome: OutcomeValidationProblem, ValidationErrors: map[string]string{"envelope": err.Error()}}, nil
	}
	if err := envelope.EnterQueued(); err != nil {
		return Result{Outcome: OutcomeInternalError}, fmt.Errorf("ingest: %w", err)
	}

	err := s.uow.Do(ctx, func(ctx context.Context, events store.EventStore, outbox store.OutboxStore) error {
		if err := events.Insert(ctx, envelope); err != nil {
			return err
		}
		entry, err := eventplatform.NewOutboxEntry(envelope.ID, s.streamName, envelope.Snapshot())
		if err != nil {
			return err
		}
		return outbox.Insert(ctx, entry)
	})
	if err == nil {
		tracing.SetAttributes(ctx, attribute.String("event_id", envelope.ID.String()))
		if req.IdempotencyKey != nil {
			s.cacheIdempotencyResult(ctx, req.TenantID, *req.IdempotencyKey, envelope.ID, envelope.Status)
		}
		return Result{Outcome: OutcomeAccepted, EventID: envelope.ID, Status: envelope.Status}, nil
	}

	if errs.Conflict(err) {
		tracing.AddEvent(ctx, "idempotency_conflict")
		return s.resolveIdempotencyConflict(ctx, req)
	}
	if errs.Transient(err) {
		tracing.RecordError(ctx, err)
		logger.Warn("ingest: transient storage failure: %v", err)
		return Result{Outcome: OutcomeInternalError}, nil
	}
	tracing.RecordError(ctx, err)
	logger.Error("ingest: unexpected storage failure: %v", err)
	return Result{Outcome: OutcomeInternalError}, fmt.Errorf("ingest: %w", err)
}

// resolveIdempotencyConflict implements spec §4.1 step 4.
func (s *Service) resolveIdempotencyConflict(ctx context.Context, req Request) (Result, error) {
	if req.IdempotencyKey == nil {
		return Result{Outcome: OutcomeConflict}, nil
	}

	if cached, ok := s.lookupIdempotencyResult(ctx, req.TenantID, *req.IdempotencyKey); ok {
		return Result{Outcome: OutcomeOK, EventID: cached.EventID, Status: cached.Status, IdempotencyReplayed: true}, nil
	}

	var existing *eventplatform.Envelope
	err := s.uow.Do(ctx, func(ctx context.Context, events store.EventStore, _ store.OutboxStore) error {
		e, err := events.GetByIdempotencyKey(ctx, req.TenantID, *req.IdempotencyKey)
		if err != nil {
			return err
		}
		existing = e
		return nil
	})
	if err != nil {
		if errs.NotFound(err) {
			return Result{Outcome: OutcomeConflict}, nil
		}
		return Result{Outcome: OutcomeInternalError}, nil
	}

	if existing.Status == eventplatform.StatusReceived {
		if err := existing.EnterQueued(); err != nil {
			logger.Warn("ingest: failed to transition recovered event %s to QUEUED: %v", existing.ID, err)
			return Result{Outcome: OutcomeOK, EventID: existing.ID, Status: existing.Status, IdempotencyReplayed: true}, nil
		}
		publishErr := s.uow.Do(ctx, func(ctx context.Context, events store.EventStore, outbox store.OutboxStore) error {
			if err := events.UpdateStatus(ctx, existing); err != nil {
				return err
			}
			entry, err := eventplatform.NewOutboxEntry(existing.ID, s.streamName, existing.Snapshot())
			if err != nil {
				return err
			}
			if err := outbox.Insert(ctx, entry); err != nil && !errs.Conflict(err) {
				return err
			}
			return nil
		})
		if publishErr != nil && !errs.Conflict(publishErr) {
			logger.Warn("ingest: failed to republish recovered outbox row for event %s: %v", existing.ID, publishErr)
		}
		s.cacheIdempotencyResult(ctx, req.TenantID, *req.IdempotencyKey, existing.ID, eventplatform.StatusQueued)
		return Result{Outcome: OutcomeOK, EventID: existing.ID, Status: eventplatform.StatusQueued, IdempotencyReplayed: true}, nil
	}

	s.cacheIdempotencyResult(ctx, req.TenantID, *req.IdempotencyKey, existing.ID, existing.Status)

	return Result{Outcome: OutcomeOK, EventID: existing.ID, Status: existing.Status, IdempotencyReplayed: true}, nil
}

func (s *Service) validate(req Request) map[string]string {
	fieldErrs := make(map[string]string)
	if req.TenantID == "" {
		fieldErrs["tenant_id"] = "is required"
	}
	if req.EventType == "" {
		fieldErrs["event_type"] = "is required"
	} else if !s.typeAllowed(req.EventType) {
		fieldErrs["event_type"] = "is not a registered event type"
	}
	if req.Source == "" {
		fieldErrs["source"] = "is required"
	}
	if req.Payload == nil {
		fieldErrs["payload"] = "is required"
	}
	if req.IdempotencyKey != nil && *req.IdempotencyKey == "" {
		fieldErrs["idempotency_key"] = "must not be blank when present"
	}
	return fieldErrs
}

// cacheIdempotencyResult records a resolved (event_id, status) pair so
// a request replayed within idempotencyCacheTTL, whose insert still
// hits the idempotency conflict, is resolved from the cache instead of
// a second Postgres lookup by idempotency key.
func (s *Service) cacheIdempotencyResult(ctx context.Context, tenantID, key string, eventID uuid.UUID, status eventplatform.Status) {
	if s.idempCache == nil {
		return
	}
	payload, err := json.Marshal(cachedIdempotencyResult{EventID: eventID, Status: status})
	if err != nil {
		return
	}
	if err := s.idempCache.Set(ctx, idempotencyCacheKey(tenantID, key), payload, idempotencyCacheTTL); err != nil {
		logger.Warn("ingest: failed to cache idempotency result for %s: %v", eventID, err)
	}
}

func (s *Service) lookupIdempotencyResult(ctx context.Context, tenantID, key string) (cachedIdempotencyResult, bool) {
	if s.idempCache == nil {
		return cachedIdempotencyResult{}, false
	}
	raw, ok := s.idempCache.Get(ctx, idempotencyCacheKey(tenantID, key))
	if !ok {
		return cachedIdempotencyResult{}, false
	}
	var cached cachedIdempotencyResult
	if err := json.Unmarshal(raw, &cached); err != nil {
		return cachedIdempotencyResult{}, false
	}
	return cached, true
}
