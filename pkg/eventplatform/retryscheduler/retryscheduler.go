// Package retryscheduler implements the background task that
// re-enqueues FAILED_RETRYABLE events whose retry delay has elapsed,
// driving them back to QUEUED, or to FAILED_TERMINAL once the attempt
// cap is exceeded (spec §4.4 Retry policy).
package retryscheduler

import (
	"context"
	"time"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/eventplatform/store"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
)

// Config configures the scheduler's poll cadence and batch size.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 1000 * time.Millisecond
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Scheduler polls store.EventStore.DueForRetry and advances each due
// row's lifecycle.
type Scheduler struct {
	events store.EventStore
	cfg    Config
}

// New builds a Scheduler. Unset Config fields take spec defaults.
func New(events store.EventStore, cfg Config) *Scheduler {
	return &Scheduler{events: events, cfg: cfg.withDefaults()}
}

// Run blocks, polling on cfg.PollInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce re-enqueues or terminates every row due for retry.
func (s *Scheduler) RunOnce(ctx context.Context) {
	due, err := s.events.DueForRetry(ctx, time.Now().UTC(), s.cfg.BatchSize)
	if err != nil {
		logger.Warn("retry scheduler: failed to load due rows: %v", err)
		return
	}

	for _, e := range due {
		if e.Attempts >= eventplatform.MaxRetryAttempts {
			if err := e.EnterFailedTerminal("retry attempts exceeded"); err != nil {
				logger.Warn("retry scheduler: failed to transition event %s to FAILED_TERMINAL: %v", e.ID, err)
				continue
			}
		} else if err := e.EnterQueued(); err != nil {
			logger.Warn("retry scheduler: failed to transition event %s to QUEUED: %v", e.ID, err)
			continue
		}
		if err := s.events.UpdateStatus(ctx, e); err != nil {
			logger.Warn("retry scheduler: failed to persist new status for event %s: %v", e.ID, err)
		}
	}
}
