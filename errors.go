package jpt

import "github.com/pkg/errors"

// Kind classifies a failure the way the engine's operation table does, so
// callers can branch on cause rather than message text.
type Kind int

const (
	// KindNotFound means a key or column was absent.
	KindNotFound Kind = iota + 1
	// KindAlreadyExists means an insert without APPEND or REPLACE hit a
	// live cell.
	KindAlreadyExists
	// KindNotEmpty means remove_column with EMPTY_ONLY hit a non-empty
	// column.
	KindNotEmpty
	// KindInvalid means a row was too long, or a log held an unknown op.
	KindInvalid
	// KindNoSpace means the column id space is exhausted.
	KindNoSpace
	// KindVersion means a disktable's version is unsupported.
	KindVersion
	// KindCorrupt means bad magic, a short read, or an inconsistent log.
	KindCorrupt
	// KindTooBig means GetInto's destination buffer was smaller than the
	// cell.
	KindTooBig
	// KindIO wraps an underlying read/write/mmap/sync failure.
	KindIO
	// KindBusy means another process holds the store's file lock.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotEmpty:
		return "not empty"
	case KindInvalid:
		return "invalid"
	case KindNoSpace:
		return "no space"
	case KindVersion:
		return "version"
	case KindCorrupt:
		return "corrupt"
	case KindTooBig:
		return "too big"
	case KindIO:
		return "io"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Error is the concrete error type every exported Engine method returns.
// The wrapped cause keeps a full pkg/errors stack trace for logs, while
// Kind lets callers branch without parsing message text.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Cause satisfies pkg/errors's Causer interface so errors.Cause(err) still
// unwraps through an *Error.
func (e *Error) Cause() error { return e.Err }

func wrapErr(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: errors.Wrap(err, msg)}
}

func newErr(kind Kind, msg string) error {
	return &Error{Kind: kind, Err: errors.New(msg)}
}

func newErrf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: errors.Errorf(format, args...)}
}

// KindOf reports the Kind of err, if err (or something it wraps) is an
// *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
