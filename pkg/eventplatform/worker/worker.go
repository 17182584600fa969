// Package worker implements the Worker (component F): a consumer-group
// reader that claims broker messages, drives the referenced event
// through its lifecycle in the Event Store, and acknowledges the
// broker only after that status write has durably committed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/adminfeed"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/backoff"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/broker"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/errs"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
	"github.com/bitechdev/ResolveSpec/pkg/metrics"
	"github.com/bitechdev/ResolveSpec/pkg/tracing"
)

// Config configures one worker instance (spec §4.3, §6.4 defaults).
type Config struct {
	Stream       string
	Group        string
	Consumer     string
	ReadBatchSize int

	EmptyReadDelay time.Duration
	ErrorDelay     time.Duration

	ClaimMinIdle      time.Duration
	ClaimBatchSize    int
	ReclaimInterval   time.Duration

	DrainMaxBatches  int
	DrainMaxMessages int

	BootstrapInitialDelay time.Duration
	BootstrapMaxDelay     time.Duration
	BootstrapFactor       float64
	BootstrapMaxAttempts  int
}

func (c Config) withDefaults() Config {
	if c.ReadBatchSize <= 0 {
		c.ReadBatchSize = 10
	}
	if c.EmptyReadDelay <= 0 {
		c.EmptyReadDelay = 250 * time.Millisecond
	}
	if c.ErrorDelay <= 0 {
		c.ErrorDelay = 1000 * time.Millisecond
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = 30 * time.Second
	}
	if c.ClaimBatchSize <= 0 {
		c.ClaimBatchSize = 10
	}
	if c.ReclaimInterval <= 0 {
		c.ReclaimInterval = 30 * time.Second
	}
	if c.DrainMaxBatches <= 0 {
		c.DrainMaxBatches = 20
	}
	if c.DrainMaxMessages <= 0 {
		c.DrainMaxMessages = 1000
	}
	if c.BootstrapInitialDelay <= 0 {
		c.BootstrapInitialDelay = 500 * time.Millisecond
	}
	if c.BootstrapMaxDelay <= 0 {
		c.BootstrapMaxDelay = 30 * time.Second
	}
	if c.BootstrapFactor < 1 {
		c.BootstrapFactor = 2.0
	}
	return c
}

// Worker runs the phases of spec §4.3.1 against a StreamBroker and
// Event Store, dispatching resolved events to a HandlerRegistry.
type Worker struct {
	broker   broker.StreamBroker
	events   store.EventStore
	handlers *eventplatform.HandlerRegistry
	cfg      Config

	lastReclaim time.Time
	claimCursor string
	autoClaimUnsupported bool

	feed *adminfeed.Hub
}

// New builds a Worker. Unset Config fields take spec defaults.
func New(b broker.StreamBroker, events store.EventStore, handlers *eventplatform.HandlerRegistry, cfg Config) *Worker {
	return &Worker{broker: b, events: events, handlers: handlers, cfg: cfg.withDefaults(), claimCursor: "0"}
}

// WithAdminFeed attaches a Hub that every subsequent status transition
// this worker makes will be broadcast to. Nil-safe: a Worker with no
// feed attached simply skips broadcasting.
func (w *Worker) WithAdminFeed(h *adminfeed.Hub) *Worker {
	w.feed = h
	return w
}

func (w *Worker) broadcast(envelope *eventplatform.Envelope, from eventplatform.Status) {
	if w.feed == nil {
		return
	}
	w.feed.Broadcast(adminfeed.Transition{
		EventID:    envelope.ID.String(),
		TenantID:   envelope.TenantID,
		EventType:  envelope.EventType,
		FromStatus: from,
		ToStatus:   envelope.Status,
		At:         time.Now().UTC(),
	})
}

// Run executes Bootstrap, Startup drain, Startup reclaim, then Steady
// state, blocking until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.startup(ctx); err != nil {
		return err
	}
	w.steadyState(ctx)
	return ctx.Err()
}

// startup retries Bootstrap + drain + reclaim as one block until it
// completes once (spec §4.3.1: "Phase 1 ... retries the whole startup
// block on any exception until it completes once").
func (w *Worker) startup(ctx context.Context) error {
	policy := backoff.Policy{
		InitialDelay:  w.cfg.BootstrapInitialDelay,
		MaxDelay:      w.cfg.BootstrapMaxDelay,
		BackoffFactor: w.cfg.BootstrapFactor,
		MaxAttempts:   w.cfg.BootstrapMaxAttempts,
		IsTransient:   errs.Transient,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			logger.Warn("worker: startup attempt %d failed, retrying in %s: %v", attempt, delay, err)
		},
	}
	return backoff.Do(ctx, policy, func(ctx context.Context) error {
		if err := w.broker.EnsureGroup(ctx, w.cfg.Stream, w.cfg.Group); err != nil {
			return err
		}
		if err := w.drain(ctx); err != nil {
			return err
		}
		return w.startupReclaim(ctx)
	})
}

func (w *Worker) drain(ctx context.Context) error {
	drained := 0
	for batch := 0; batch < w.cfg.DrainMaxBatches && drained < w.cfg.DrainMaxMessages; batch++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msgs, err := w.broker.ReadOwnPending(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.ReadBatchSize)
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		for _, m := range msgs {
			w.process(ctx, m, eventplatform.PhaseDrain)
		}
		drained += len(msgs)
	}
	return nil
}

func (w *Worker) startupReclaim(ctx context.Context) error {
	for i := 0; i < w.cfg.DrainMaxBatches; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := w.reclaimOnce(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

func (w *Worker) steadyState(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(w.lastReclaim) >= w.cfg.ReclaimInterval {
			if _, err := w.reclaimOnce(ctx); err != nil {
				logger.Warn("worker: reclaim failed: %v", err)
				if sleepOrDone(ctx, w.cfg.ErrorDelay) {
					return
				}
				continue
			}
		}

		msgs, err := w.broker.ReadNew(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.ReadBatchSize, w.cfg.EmptyReadDelay)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("worker: read failed: %v", err)
			if sleepOrDone(ctx, w.cfg.ErrorDelay) {
				return
			}
			continue
		}

		if len(msgs) == 0 {
			if sleepOrDone(ctx, w.cfg.EmptyReadDelay) {
				return
			}
			continue
		}

		for _, m := range msgs {
			w.process(ctx, m, eventplatform.PhaseRead)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}

// reclaimOnce runs one pass of spec §4.3.2: prefer auto-claim, falling
// back to list-then-claim if the broker signals it is unsupported.
// Returns the count of messages reclaimed and processed.
func (w *Worker) reclaimOnce(ctx context.Context) (int, error) {
	w.lastReclaim = time.Now()

	if !w.autoClaimUnsupported {
		msgs, next, err := w.broker.AutoClaim(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.ClaimMinIdle, w.cfg.ClaimBatchSize, w.claimCursor)
		if err != nil {
			if errors.Is(err, errUnsupported) {
				w.autoClaimUnsupported = true
			} else {
				return 0, err
			}
		} else {
			for _, m := range msgs {
				w.process(ctx, m, eventplatform.PhaseReclaimAuto)
			}
			if next == "0" || next == w.claimCursor {
				w.claimCursor = "0"
			} else {
				w.claimCursor = next
			}
			return len(msgs), nil
		}
	}

	ids, err := w.broker.PendingIDs(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.ClaimMinIdle, w.cfg.ClaimBatchSize)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	msgs, err := w.broker.Claim(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.ClaimMinIdle, ids...)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		w.process(ctx, m, eventplatform.PhaseReclaimClaim)
	}
	return len(msgs), nil
}

// errUnsupported is returned by StreamBroker implementations whose
// backend lacks a native auto-claim command, signaling the fallback
// path. The Redis implementation never returns it.
var errUnsupported = errors.New("broker: auto-claim unsupported")

// ErrUnsupported is errUnsupported, exported for StreamBroker authors.
var ErrUnsupported = errUnsupported

type embeddedMessage struct {
	EventID string `json:"event_id"`
}

func resolveEventID(m broker.Message) (string, bool) {
	if m.EventID != "" {
		return m.EventID, true
	}
	var e embeddedMessage
	if err := json.Unmarshal(m.Payload, &e); err != nil || e.EventID == "" {
		return "", false
	}
	return e.EventID, true
}

// process implements spec §4.3.3 per-entry processing.
func (w *Worker) process(ctx context.Context, m broker.Message, phase eventplatform.Phase) {
	eventIDStr, ok := resolveEventID(m)
	if !ok {
		logger.Warn("worker: cannot resolve event_id for broker entry %s, leaving unacknowledged", m.ID)
		return
	}
	eventID, err := uuid.Parse(eventIDStr)
	if err != nil {
		logger.Warn("worker: event_id %q for broker entry %s is not a valid identifier, leaving unacknowledged", eventIDStr, m.ID)
		return
	}

	ctx, span := tracing.StartSpan(ctx, "worker.process",
		attribute.String("event_id", eventIDStr),
		attribute.String("phase", string(phase)),
	)
	defer span.End()

	envelope, err := w.events.GetByID(ctx, eventID)
	if err != nil {
		tracing.RecordError(ctx, err)
		logger.Warn("worker: failed to load event %s for broker entry %s: %v", eventID, m.ID, err)
		return
	}
	tracing.SetAttributes(ctx, attribute.String("event_type", envelope.EventType), attribute.String("tenant_id", envelope.TenantID))

	prevStatus := envelope.Status
	if err := envelope.EnterProcessing(); err != nil {
		logger.Warn("worker: event %s already left QUEUED (%v); acknowledging stale entry", eventID, err)
		w.ack(ctx, m.ID)
		return
	}
	if err := w.events.UpdateStatus(ctx, envelope); err != nil {
		logger.Warn("worker: failed to persist PROCESSING for event %s: %v", eventID, err)
		return
	}
	w.broadcast(envelope, prevStatus)

	handler, ok := w.handlers.Lookup(envelope.EventType)
	if !ok {
		logger.Error("worker: %v", &eventplatform.ErrNoHandler{EventType: envelope.EventType})
		w.failRetryable(ctx, envelope, "no handler registered", m.ID)
		return
	}

	start := time.Now()
	handleErr := handler.Handle(ctx, eventIDStr, m.Payload, phase)
	duration := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	if handleErr == nil {
		if err := envelope.EnterSucceeded(); err != nil {
			logger.Warn("worker: event %s failed SUCCEEDED transition: %v", eventID, err)
			return
		}
		if err := w.events.UpdateStatus(ctx, envelope); err != nil {
			logger.Warn("worker: failed to persist SUCCEEDED for event %s: %v", eventID, err)
			return
		}
		w.broadcast(envelope, eventplatform.StatusProcessing)
		metrics.GetProvider().RecordEventProcessed(envelope.Source, envelope.EventType, string(eventplatform.StatusSucceeded), duration)
		w.ack(ctx, m.ID)
		return
	}

	tracing.RecordError(ctx, handleErr)
	metrics.GetProvider().RecordEventProcessed(envelope.Source, envelope.EventType, string(eventplatform.StatusFailedRetryable), duration)
	w.failRetryable(ctx, envelope, handleErr.Error(), m.ID)
}

func (w *Worker) failRetryable(ctx context.Context, envelope *eventplatform.Envelope, errMsg string, msgID string) {
	prevStatus := envelope.Status
	nextAttempt := time.Now().UTC().Add(eventplatform.NextRetryDelay(envelope.Attempts))
	if err := envelope.EnterFailedRetryable(errMsg, nextAttempt); err != nil {
		logger.Warn("worker: failed to transition event %s to FAILED_RETRYABLE: %v", envelope.ID, err)
		return
	}
	if err := w.events.UpdateStatus(ctx, envelope); err != nil {
		logger.Warn("worker: failed to persist FAILED_RETRYABLE for event %s: %v", envelope.ID, err)
		return
	}
	w.broadcast(envelope, prevStatus)
	w.ack(ctx, msgID)
}

func (w *Worker) ack(ctx context.Context, msgID string) {
	if err := w.broker.Ack(ctx, w.cfg.Stream, w.cfg.Group, msgID); err != nil {
		logger.Warn("worker: failed to ack broker entry %s: %v", msgID, err)
	}
}
