// Package errs implements the error taxonomy shared by every Glassdome
// component: Validation, Authorization, Transient, Permanent, ResourceMissing
// and Drift. Callers should construct an *Error with the matching helper
// rather than returning a bare error, so boundaries (HTTP-free as Glassdome
// is, but CLI/registry/overseer alike) can always recover the kind.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind string

const (
	// Validation marks a malformed spec or missing required config. Never retried.
	Validation Kind = "validation"
	// Authorization marks a request that failed Overseer gating.
	Authorization Kind = "authorization"
	// Transient marks timeouts, connection resets, 5xx, rate limits. Retried with backoff.
	Transient Kind = "transient"
	// Permanent marks 4xx rejections, auth failures, schema mismatches. Never retried.
	Permanent Kind = "permanent"
	// ResourceMissing marks a referenced entity that does not exist. Subtype of Permanent.
	ResourceMissing Kind = "resource_missing"
	// Drift marks a state disagreement; not a failure, but a signal to the Overseer.
	Drift Kind = "drift"
)

// Error is the structured, user-visible failure shape required by spec §7:
// a stable kind, a free-text message, an optional retry-after hint, an
// optional correlation id, and (for adapter-originated errors) the
// platform's own error code.
type Error struct {
	Kind         Kind
	Message      string
	Field        string // populated for Validation errors
	RetryAfter   time.Duration
	CorrelationID string
	PlatformCode string
	Remediation  string
	cause        error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Retriable reports whether a single operator should attempt this error again.
func (e *Error) Retriable() bool {
	return e != nil && e.Kind == Transient
}

func newErr(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewValidation builds a Validation error naming the offending field.
func NewValidation(field, format string, args ...any) *Error {
	e := newErr(Validation, format, args...)
	e.Field = field
	return e
}

// NewAuthorization builds an Authorization error naming the failing gate rule.
func NewAuthorization(rule, format string, args ...any) *Error {
	e := newErr(Authorization, format, args...)
	e.Field = rule
	return e
}

// NewTransient builds a Transient error with a retry-after hint.
func NewTransient(retryAfter time.Duration, format string, args ...any) *Error {
	e := newErr(Transient, format, args...)
	e.RetryAfter = retryAfter
	return e
}

// NewPermanent builds a non-retriable Permanent error.
func NewPermanent(format string, args ...any) *Error {
	return newErr(Permanent, format, args...)
}

// NewResourceMissing builds a ResourceMissing error (a Permanent subtype).
func NewResourceMissing(kind, ref string) *Error {
	return &Error{
		Kind:    ResourceMissing,
		Message: fmt.Sprintf("%s %q not found", kind, ref),
	}
}

// NewDrift builds a Drift signal (not a failure) describing a disagreement.
func NewDrift(format string, args ...any) *Error {
	return newErr(Drift, format, args...)
}

// Wrap attaches a cause to err while preserving its kind and fields.
func Wrap(err *Error, cause error) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.cause = cause
	return &clone
}

// WithCorrelationID returns a copy of err carrying the supplied correlation id.
func (e *Error) WithCorrelationID(id string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.CorrelationID = id
	return &clone
}

// WithRemediation returns a copy of err carrying a suggested remediation string.
func (e *Error) WithRemediation(remediation string) *Error {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Remediation = remediation
	return &clone
}

// As reports whether err (or something it wraps) is a *Error, and if so
// returns it. It exists so callers can use the stdlib errors.As idiom.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err, defaulting to Permanent for errors that
// were never classified (e.g. a plain error bubbling up from a library).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Permanent
}
