// Package errs defines the error kinds exposed to clients and internal
// callers per spec.md §7, and the plumbing to attach/inspect a Kind on a
// wrapped error without losing the underlying cause.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories the native protocol and the core
// can surface. Values are stable; a protocol ERROR reply encodes the
// numeric position in this list.
type Kind int

const (
	Access Kind = iota
	Command
	Invalid
	Exist
	NoEntity
	ConnectionRefused
	ConnectionTerminated
	Killed
	Timeout
	AuthKey
	InternalError
	IO
	Busy
)

func (k Kind) String() string {
	switch k {
	case Access:
		return "ACCESS"
	case Command:
		return "COMMAND"
	case Invalid:
		return "INVALID"
	case Exist:
		return "EXIST"
	case NoEntity:
		return "NO_ENTITY"
	case ConnectionRefused:
		return "CONNECTION_REFUSED"
	case ConnectionTerminated:
		return "CONNECTION_TERMINATED"
	case Killed:
		return "KILLED"
	case Timeout:
		return "TIMEOUT"
	case AuthKey:
		return "AUTH_KEY"
	case InternalError:
		return "INTERNAL_ERROR"
	case IO:
		return "IO"
	case Busy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// kindError pairs a Kind with a wrapped cause so %w / errors.Is keeps
// working through the usual fmt.Errorf call chains.
type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// New wraps err with a Kind. Use with fmt.Errorf-built causes:
//
//	errs.New(errs.NoEntity, fmt.Errorf("sink %q does not exist", name))
func New(kind Kind, err error) error {
	return &kindError{kind: kind, err: err}
}

// Of returns the Kind attached to err (or any error it wraps), and
// whether one was found. Errors with no attached Kind are treated by
// callers as InternalError.
func Of(err error) (Kind, bool) {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return InternalError, false
}
