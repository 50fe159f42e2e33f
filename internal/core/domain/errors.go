package domain

import (
	"errors"
	"fmt"
)

// Kind classifies where a failure came from.
type Kind int

const (
	KindRuntime Kind = iota + 1
	KindConfigIO
	KindValidation
	KindReload
)

func (k Kind) String() string {
	switch k {
	case KindRuntime:
		return "runtime"
	case KindConfigIO:
		return "config-io"
	case KindValidation:
		return "validation"
	case KindReload:
		return "reload"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound      = errors.New("not found")
	ErrNoAppNetwork  = errors.New("container has no application network attachment")
	ErrNoServerBlock = errors.New("proxy config has no server block")
	ErrInvalidPort   = errors.New("invalid port")
	ErrEmptyHost     = errors.New("empty host")
)

// Error is a classified failure of one operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func RuntimeError(op string, err error) error {
	return &Error{Kind: KindRuntime, Op: op, Err: err}
}

func ConfigIOError(op string, err error) error {
	return &Error{Kind: KindConfigIO, Op: op, Err: err}
}

func ValidationError(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func ReloadError(op string, err error) error {
	return &Error{Kind: KindReload, Op: op, Err: err}
}

// IsKind reports whether any error in err's chain is a domain Error of kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the kind of the first domain Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// PersistedError is a failure that happened after a routing change was
// written, e.g. while recording it in the config history. The change itself
// is in place.
type PersistedError struct {
	Err error
}

func (e *PersistedError) Error() string {
	return fmt.Sprintf("routing change persisted: %v", e.Err)
}

func (e *PersistedError) Unwrap() error { return e.Err }

// Persisted reports whether err happened after the routing change was written.
func Persisted(err error) bool {
	var p *PersistedError
	return errors.As(err, &p)
}
