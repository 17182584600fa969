// Package handlers holds concrete eventplatform.EventHandler
// implementations for the worker daemon to register by event type.
package handlers

import (
	"context"

	"github.com/bitechdev/ResolveSpec/pkg/eventplatform"
	"github.com/bitechdev/ResolveSpec/pkg/logger"
)

// Logging returns a handler that logs receipt of the event and
// succeeds unconditionally. Useful as a default handler for event
// types that have no dedicated business logic yet.
func Logging() eventplatform.EventHandler {
	return eventplatform.EventHandlerFunc(func(ctx context.Context, eventID string, message []byte, phase eventplatform.Phase) error {
		logger.Info("worker: handling event %s (phase=%s, %d bytes)", eventID, phase, len(message))
		return nil
	})
}
