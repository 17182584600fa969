// Package errs classifies storage and broker failures into the kinds
// the event platform's components branch on, so that callers never
// pattern-match on driver-specific error types.
package errs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel kinds. Wrap a cause with the With* constructors below and
// classify it with Is/As-style helpers (Conflict, Transient, ...).
var (
	ErrConflict   = errors.New("conflict")
	ErrTransient  = errors.New("transient")
	ErrValidation = errors.New("validation")
	ErrNotFound   = errors.New("not found")
)

// kindError wraps a kind sentinel and the underlying cause so errors.Is
// matches the sentinel while errors.Unwrap still reaches the cause.
type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.err}
}

// WithConflict wraps err as a conflict (e.g. a unique-constraint violation).
func WithConflict(msg string, err error) error {
	return &kindError{kind: ErrConflict, msg: msg, err: err}
}

// WithTransient wraps err as a transient failure expected to resolve on retry.
func WithTransient(msg string, err error) error {
	return &kindError{kind: ErrTransient, msg: msg, err: err}
}

// WithValidation wraps err (or just msg) as a field/input validation failure.
func WithValidation(msg string, err error) error {
	return &kindError{kind: ErrValidation, msg: msg, err: err}
}

// WithNotFound wraps err as a missing-record failure.
func WithNotFound(msg string, err error) error {
	return &kindError{kind: ErrNotFound, msg: msg, err: err}
}

// Conflict reports whether err (or a wrapped cause) is a conflict.
func Conflict(err error) bool { return errors.Is(err, ErrConflict) }

// Transient reports whether err (or a wrapped cause) is expected to
// resolve itself on retry.
func Transient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 (connection exception) and serialization/deadlock
		// failures are retry-safe; everything else is surfaced as-is.
		switch pgErr.Code {
		case "40001", "40P01", "08000", "08003", "08006", "08001", "08004":
			return true
		}
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Validation reports whether err is a validation failure.
func Validation(err error) bool { return errors.Is(err, ErrValidation) }

// NotFound reports whether err is a not-found failure.
func NotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), regardless of how deeply it is wrapped.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
