package capsule

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can react without string matching.
type Kind string

const (
	// KindStoreUnavailable is a transport or auth failure talking to the
	// record store. Recovered by skipping the affected operation; the next
	// tick retries.
	KindStoreUnavailable Kind = "store_unavailable"
	// KindNotFound means the target record is absent for a by-id
	// operation. Benign: the record may have been deleted concurrently.
	KindNotFound Kind = "not_found"
	// KindConflict means delete-if-unsent was refused because the capsule
	// was already delivered.
	KindConflict Kind = "conflict"
	// KindEmailRejected means the email provider refused or failed a send.
	// The capsule stays unsent and is retried on the next tick.
	KindEmailRejected Kind = "email_rejected"
	// KindValidation means creation input violates invariants. Surfaced
	// synchronously to the caller; never reaches the store.
	KindValidation Kind = "validation"
)

// Error carries a Kind through wrapping so the HTTP layer and the
// scheduler can branch on it with KindOf.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind and the operation that produced it.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or empty string for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }
