// Package errs defines the typed error values produced by the consensus
// engine, in the idiom of go-ethereum's consensus package sentinel errors:
// comparable base kinds wrapped with call-specific detail via fmt.Errorf's
// %w, so callers can branch with errors.Is/errors.As instead of parsing
// strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a comparable error category, usable with errors.Is.
type Kind error

var (
	// Invalid marks a block or operation that can never become valid:
	// bad signature, wrong creator, malformed parent set, expired
	// operation. The offending block is moved to Discarded.
	Invalid Kind = errors.New("invalid")

	// MissingDependency marks a block waiting on parents or ancestors
	// that are not yet Active. Non-fatal; the block is parked in
	// WaitingForDependencies and a wishlist delta is published.
	MissingDependency Kind = errors.New("missing dependency")

	// MissingSnapshot marks a Selector draw that cannot be resolved
	// because its lookback cycle has not yet closed.
	MissingSnapshot Kind = errors.New("missing roll snapshot")

	// ChannelClosed marks a fatal loss of a required channel; the
	// controller worker must shut down.
	ChannelClosed Kind = errors.New("channel closed")

	// Timeout marks an overdue request/response exchange with an
	// external collaborator (pool or protocol channel).
	Timeout Kind = errors.New("timeout")

	// CapacityExceeded marks a silent drop due to a bounded buffer
	// (future heap, dependency queue) being full. Never surfaced as
	// Discarded.
	CapacityExceeded Kind = errors.New("capacity exceeded")
)

// wrapped couples a Kind with call-specific detail while remaining
// errors.Is-compatible with its Kind.
type wrapped struct {
	kind Kind
	msg  string
}

func (w *wrapped) Error() string { return w.kind.Error() + ": " + w.msg }
func (w *wrapped) Unwrap() error { return w.kind }

// Wrap annotates kind with a formatted detail message.
func Wrap(kind Kind, format string, args ...interface{}) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Is reports whether err (or any error it wraps) is kind.
func Is(err error, kind Kind) bool { return errors.Is(err, kind) }
