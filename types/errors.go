package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures into the small set of outcomes callers act on.
type ErrorKind string

const (
	// KindNotFound means the key is absent or the entry has logically expired.
	KindNotFound ErrorKind = "NotFound"

	// KindPreconditionFailed means a conditional write lost a race, typically
	// because the row was deleted concurrently.
	KindPreconditionFailed ErrorKind = "PreconditionFailed"

	// KindProviderUnavailable means an external region or service could not be
	// reached. The current unit of work is abandoned; the next scheduled cycle
	// retries it.
	KindProviderUnavailable ErrorKind = "ProviderUnavailable"

	// KindMalformed means an inbound notification had an unexpected shape.
	KindMalformed ErrorKind = "Malformed"
)

// Error is a typed error with a machine-readable kind. Op names the operation
// that failed, for example "UpdateState".
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns an [*Error] of the given kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound returns a [KindNotFound] error.
func NotFound(op string, format string, args ...any) *Error {
	return NewError(KindNotFound, op, fmt.Errorf(format, args...))
}

// PreconditionFailed returns a [KindPreconditionFailed] error wrapping err.
func PreconditionFailed(op string, err error) *Error {
	return NewError(KindPreconditionFailed, op, err)
}

// ProviderUnavailable returns a [KindProviderUnavailable] error wrapping err.
func ProviderUnavailable(op string, err error) *Error {
	return NewError(KindProviderUnavailable, op, err)
}

// Malformed returns a [KindMalformed] error wrapping err.
func Malformed(op string, err error) *Error {
	return NewError(KindMalformed, op, err)
}

// KindOf returns the kind of the first [*Error] in err's chain, or "" if there
// is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

func IsNotFound(err error) bool            { return KindOf(err) == KindNotFound }
func IsPreconditionFailed(err error) bool  { return KindOf(err) == KindPreconditionFailed }
func IsProviderUnavailable(err error) bool { return KindOf(err) == KindProviderUnavailable }
func IsMalformed(err error) bool           { return KindOf(err) == KindMalformed }
