package dmaperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error per the recovery policy of the coordination and
// transaction layers.
type Kind uint8

const (
	// KindConflict is an optimistic concurrency violation detected at commit.
	KindConflict Kind = iota
	// KindDecline is a transient coordination refusal (lock contention,
	// not-leader); the caller should retry with back-off.
	KindDecline
	// KindNotFound names an unknown id, chunk, or table.
	KindNotFound
	// KindRelinquished means the target peer no longer serves the chunk;
	// the caller must re-resolve via the chord index.
	KindRelinquished
	// KindTransport means the target peer is unreachable.
	KindTransport
	// KindInvariant is a structural/programmer error. It is never retried.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindDecline:
		return "decline"
	case KindNotFound:
		return "not-found"
	case KindRelinquished:
		return "relinquished"
	case KindTransport:
		return "transport"
	case KindInvariant:
		return "invariant-violation"
	default:
		return "unknown"
	}
}

// Error is the common error type returned by chunk coordination, the chord
// index, and the transaction layer.
type Error struct {
	Kind Kind
	Msg  string
	// Conflicting is populated for KindConflict: the ids whose records
	// collided with the caller's staged changes.
	Conflicting []string
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("dmap: %s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("dmap: %s: %s", e.Kind, e.Msg)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// New creates an Error of the given kind.
func New(kind Kind, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...)}
}

// Wrap creates an Error of the given kind, wrapping cause with a stack trace
// via github.com/pkg/errors so the original site can be recovered with
// errors.Cause.
func Wrap(kind Kind, cause error, msg string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(msg, args...), cause: errors.WithStack(cause)}
}

// Conflict builds a KindConflict error carrying the offending ids.
func Conflict(ids []string, msg string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(msg, args...), Conflicting: ids}
}

// Is reports whether err is a dmap Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
