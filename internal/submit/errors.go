package submit

import (
	"errors"
	"fmt"
)

// Kind classifies a downstream failure.
type Kind string

const (
	KindAuthFailure Kind = "auth_failure"
	KindConflict    Kind = "conflict"
	KindUnreachable Kind = "unreachable"
	KindRejected    Kind = "rejected"
	KindTimeout     Kind = "timeout"
)

// Error is a classified downstream failure.
type Error struct {
	Kind       Kind
	Detail     string
	StatusCode int
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Kind, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Transient reports whether the same request may succeed later without any
// change to the record.
func (e *Error) Transient() bool {
	return e.Kind == KindUnreachable || e.Kind == KindTimeout
}

// IsConflict reports whether err means the downstream already holds the
// record. Callers treat this as success.
func IsConflict(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindConflict
}

// Classify returns err as an *Error, wrapping anything unclassified as
// unreachable.
func Classify(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Kind: KindUnreachable, Detail: err.Error()}
}
