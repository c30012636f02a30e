// Package fault carries typed failures across component boundaries so
// callers can branch on the failure class without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	// Authentication means a bad or missing credential; the connection is refused.
	Authentication Kind = iota + 1
	// Authorization means the caller is not a participant/member or lacks the role.
	Authorization
	// NotFound means the referenced conversation/group/message/user is absent.
	NotFound
	// InvalidState means the operation is not valid for the current state
	// (recall window expired, already processed, empty content, self-targeted).
	InvalidState
	// Conflict means a uniqueness rule was violated (duplicate member/friendship).
	Conflict
	// Upstream means the external store or blob collaborator failed.
	Upstream
)

func (k Kind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case NotFound:
		return "not_found"
	case InvalidState:
		return "invalid_state"
	case Conflict:
		return "conflict"
	case Upstream:
		return "upstream"
	}
	return "unknown"
}

// Error is a failure with a kind. It wraps an underlying cause when one exists.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a typed failure.
func New(k Kind, msg string) error {
	return &Error{Kind: k, Msg: msg}
}

// Newf creates a typed failure with a formatted message.
func Newf(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
// Returns nil if err is nil.
func Wrap(k Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or 0 for untyped errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}
