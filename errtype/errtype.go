// Package errtype defines the error taxonomy used across the store, modeled
// on erigon's convention of sentinel errors classified with errors.Is/As
// rather than string matching. Causes are attached with github.com/pkg/errors
// so background tasks can log a full chain without losing the taxonomy tag.
package errtype

import "github.com/pkg/errors"

// Kind classifies an error per the taxonomy.
type Kind int

const (
	ParseError Kind = iota
	InvalidCast
	InvalidOperation
	InvalidAccess
	IllegalState
	MemoryError
	Unsupported
	Management
	ThreadNotRegistered
	DurabilityFailed
	CorruptArchive
	AlreadyExists
	NotFound
	NotYetVisible
)

func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case InvalidCast:
		return "InvalidCast"
	case InvalidOperation:
		return "InvalidOperation"
	case InvalidAccess:
		return "InvalidAccess"
	case IllegalState:
		return "IllegalState"
	case MemoryError:
		return "MemoryError"
	case Unsupported:
		return "Unsupported"
	case Management:
		return "Management"
	case ThreadNotRegistered:
		return "ThreadNotRegistered"
	case DurabilityFailed:
		return "DurabilityFailed"
	case CorruptArchive:
		return "CorruptArchive"
	case AlreadyExists:
		return "AlreadyExists"
	case NotFound:
		return "NotFound"
	case NotYetVisible:
		return "NotYetVisible"
	default:
		return "Unknown"
	}
}

// Error wraps an underlying cause with a taxonomy Kind and a message.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, errtype.New(Kind, "")) to match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New constructs a bare taxonomy error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches a Kind and message to an existing cause, preserving its
// chain via github.com/pkg/errors. The stack that errors.Wrap records is
// taken inside Wrap, not at the original failure site, and *Error has no
// Format method, so %+v does not print it.
func Wrap(kind Kind, msg string, cause error) *Error {
	if cause == nil {
		return New(kind, msg)
	}
	return &Error{Kind: kind, Msg: msg, Err: errors.Wrap(cause, msg)}
}

// Of returns a sentinel for use with errors.Is checks, e.g.
// errors.Is(err, errtype.Of(errtype.NotFound)).
func Of(kind Kind) error { return &Error{Kind: kind} }

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return errors.Is(err, Of(kind))
}
