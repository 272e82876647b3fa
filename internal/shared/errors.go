package shared

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure for callers deciding how to react.
type Kind string

const (
	// KindValidation covers malformed or unbalanced input.
	KindValidation Kind = "validation"
	// KindNotFound covers missing accounts, entries, sessions or items.
	KindNotFound Kind = "not_found"
	// KindConflict covers uniqueness violations such as duplicate account codes.
	KindConflict Kind = "conflict"
	// KindState covers operations blocked by the current lifecycle state.
	KindState Kind = "state"
	// KindPeriodLocked covers dated mutations into a locked accounting period.
	KindPeriodLocked Kind = "period_locked"
	// KindRetryable covers storage-level contention where a retry may help.
	KindRetryable Kind = "retryable"
)

// Error is the typed domain error carried across the core. Every failure a
// caller can act on is one of these; anything else is an infrastructure error.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind so packages can export kind sentinels.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && (t.Reason == "" || t.Reason == e.Reason)
	}
	return false
}

// ValidationError reports malformed input.
func ValidationError(format string, args ...any) error {
	return &Error{Kind: KindValidation, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a missing entity.
func NotFoundError(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError reports a uniqueness conflict.
func ConflictError(format string, args ...any) error {
	return &Error{Kind: KindConflict, Reason: fmt.Sprintf(format, args...)}
}

// StateError reports an operation blocked by lifecycle state.
func StateError(format string, args ...any) error {
	return &Error{Kind: KindState, Reason: fmt.Sprintf(format, args...)}
}

// PeriodLockedError reports a mutation into a locked period.
func PeriodLockedError(format string, args ...any) error {
	return &Error{Kind: KindPeriodLocked, Reason: fmt.Sprintf(format, args...)}
}

// RetryableError wraps storage contention that a caller may retry.
func RetryableError(err error) error {
	return &Error{Kind: KindRetryable, Reason: "transaction aborted", Err: err}
}

// KindOf extracts the kind from err, or empty when err is not a domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether the failure is worth retrying.
func IsRetryable(err error) bool { return KindOf(err) == KindRetryable }

// ErrNotFound is a bare kind sentinel for repository scan paths.
var ErrNotFound = &Error{Kind: KindNotFound, Reason: "not found"}
