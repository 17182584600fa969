package eventplatform

import (
	"fmt"
	"time"
)

// transition is one permitted (from, to) pair in the lifecycle.
type transition struct {
	from Status
	to   Status
}

// permittedTransitions enumerates every pair the lifecycle state machine
// allows. Every other pair is forbidden and rejected before any write.
var permittedTransitions = map[transition]bool{
	{StatusReceived, StatusQueued}:                true,
	{StatusQueued, StatusProcessing}:              true,
	{StatusProcessing, StatusSucceeded}:            true,
	{StatusProcessing, StatusFailedRetryable}:      true,
	{StatusProcessing, StatusFailedTerminal}:       true,
	{StatusFailedRetryable, StatusQueued}:          true,
	{StatusFailedRetryable, StatusFailedTerminal}:  true,
}

// ErrForbiddenTransition is returned when a caller asks for a status
// change the state machine does not permit. It must never be persisted.
type ErrForbiddenTransition struct {
	From, To Status
}

func (e *ErrForbiddenTransition) Error() string {
	return fmt.Sprintf("forbidden transition: %s -> %s", e.From, e.To)
}

// EnterQueued transitions RECEIVED -> QUEUED on ingestion commit.
func (e *Envelope) EnterQueued() error {
	if err := e.checkTransition(StatusQueued); err != nil {
		return err
	}
	if e.Status == StatusFailedRetryable {
		e.NextAttemptAt = nil
	}
	e.Status = StatusQueued
	return nil
}

// EnterProcessing transitions QUEUED -> PROCESSING when a worker
// claims the entry: attempts increments, last_error and
// next_attempt_at clear.
func (e *Envelope) EnterProcessing() error {
	if err := e.checkTransition(StatusProcessing); err != nil {
		return err
	}
	e.Status = StatusProcessing
	e.Attempts++
	e.LastError = nil
	e.NextAttemptAt = nil
	return nil
}

// EnterSucceeded transitions PROCESSING -> SUCCEEDED on handler success.
func (e *Envelope) EnterSucceeded() error {
	if err := e.checkTransition(StatusSucceeded); err != nil {
		return err
	}
	e.Status = StatusSucceeded
	e.LastError = nil
	e.NextAttemptAt = nil
	return nil
}

// EnterFailedRetryable transitions PROCESSING -> FAILED_RETRYABLE on a
// transient handler failure. errMsg falls back to "Unknown error" when
// blank. nextAttemptAt must be strictly in the future.
func (e *Envelope) EnterFailedRetryable(errMsg string, nextAttemptAt time.Time) error {
	if err := e.checkTransition(StatusFailedRetryable); err != nil {
		return err
	}
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	if !nextAttemptAt.After(time.Now()) {
		return fmt.Errorf("next_attempt_at must be strictly in the future")
	}
	e.Status = StatusFailedRetryable
	e.LastError = &errMsg
	nextAttemptAt = nextAttemptAt.UTC()
	e.NextAttemptAt = &nextAttemptAt
	return nil
}

// EnterFailedTerminal transitions to FAILED_TERMINAL: from PROCESSING
// on a non-retryable handler failure, or from FAILED_RETRYABLE once the
// retry cap is reached.
func (e *Envelope) EnterFailedTerminal(errMsg string) error {
	if err := e.checkTransition(StatusFailedTerminal); err != nil {
		return err
	}
	if errMsg == "" {
		errMsg = "Unknown error"
	}
	e.Status = StatusFailedTerminal
	e.LastError = &errMsg
	e.NextAttemptAt = nil
	return nil
}

func (e *Envelope) checkTransition(to Status) error {
	if !permittedTransitions[transition{e.Status, to}] {
		return &ErrForbiddenTransition{From: e.Status, To: to}
	}
	return nil
}
