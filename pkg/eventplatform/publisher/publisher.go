// Package publisher implements the Outbox Publisher (component E): a
// background loop that relays unpublished outbox rows to the broker
// exactly once per row and prunes old published rows.
package publisher

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/broker"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
	"github.com/bitechdev/ResolveSpec/pkg/metrics"
	"github.com/bitechdev/ResolveSpec/pkg/tracing"
)

// snapshotLabels is the minimal projection of eventplatform.Snapshot
// needed for metric labels, decoded straight from the outbox payload
// so the publisher never has to import the eventplatform package.
type snapshotLabels struct {
	Source    string `json:"source"`
	EventType string `json:"event_type"`
}

// Config configures the publisher's cadence (spec §4.2).
type Config struct {
	PollInterval    time.Duration
	MaxBatchSize    int
	PruneEveryCycle int
	PruneRetention  time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 1000 * time.Millisecond
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 100
	}
	if c.PruneEveryCycle <= 0 {
		c.PruneEveryCycle = 10
	}
	if c.PruneRetention <= 0 {
		c.PruneRetention = 24 * time.Hour
	}
	return c
}

// Publisher relays store.OutboxStore rows onto a broker.StreamBroker.
type Publisher struct {
	outbox store.OutboxStore
	broker broker.StreamBroker
	cfg    Config
	cycles int
}

// New builds a Publisher. Unset Config fields take the spec defaults.
func New(outbox store.OutboxStore, b broker.StreamBroker, cfg Config) *Publisher {
	return &Publisher{outbox: outbox, broker: b, cfg: cfg.withDefaults()}
}

// Run blocks, polling on cfg.PollInterval until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single poll cycle (spec §4.2 steps 1-3).
func (p *Publisher) RunOnce(ctx context.Context) {
	rows, err := p.outbox.Unpublished(ctx, p.cfg.MaxBatchSize)
	if err != nil {
		logger.Warn("outbox publisher: failed to load unpublished rows: %v", err)
		return
	}

	for _, row := range rows {
		var labels snapshotLabels
		_ = json.Unmarshal(row.Payload, &labels)

		spanCtx, span := tracing.StartSpan(ctx, "publisher.publish",
			attribute.String("event_id", row.EventID.String()),
			attribute.String("stream", row.StreamName),
		)
		if err := p.broker.Publish(spanCtx, row.StreamName, row.EventID.String(), row.Payload); err != nil {
			tracing.RecordError(spanCtx, err)
			span.End()
			if recErr := p.outbox.RecordFailure(ctx, row.ID, err.Error()); recErr != nil {
				logger.Warn("outbox publisher: failed to record publish failure for row %s: %v", row.ID, recErr)
			}
			continue
		}
		span.End()
		if err := p.outbox.MarkPublished(ctx, row.ID, time.Now().UTC()); err != nil {
			logger.Warn("outbox publisher: failed to mark row %s published: %v", row.ID, err)
		}
		metrics.GetProvider().RecordEventPublished(labels.Source, labels.EventType)
	}

	metrics.GetProvider().UpdateEventQueueSize(int64(len(rows)))

	p.cycles++
	if p.cycles%p.cfg.PruneEveryCycle == 0 {
		cutoff := time.Now().UTC().Add(-p.cfg.PruneRetention)
		n, err := p.outbox.DeletePublishedBefore(ctx, cutoff)
		if err != nil {
			logger.Warn("outbox publisher: prune failed: %v", err)
			return
		}
		if n > 0 {
			logger.Info("outbox publisher: pruned %d published rows older than %s", n, cutoff)
		}
	}
}
