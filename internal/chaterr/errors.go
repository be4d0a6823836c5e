// ABOUTME: Domain error taxonomy shared by the hub, dispatcher, and pin manager
// ABOUTME: Errors carry a Kind so transports can render a specific failure to the client

package chaterr

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure.
type Kind string

const (
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindNotFound       Kind = "not_found"
	KindCapacity       Kind = "capacity"
	KindRaceOutcome    Kind = "race_outcome"
	KindForbidden      Kind = "forbidden"
	KindInternal       Kind = "internal"
)

// Sentinels for errors.Is matching. Every *Error unwraps to the sentinel of its kind.
var (
	ErrAuthentication = errors.New("not authenticated")
	ErrValidation     = errors.New("validation failed")
	ErrNotFound       = errors.New("not found")
	ErrCapacity       = errors.New("capacity reached")
	ErrRaceOutcome    = errors.New("lost concurrent update")
	ErrForbidden      = errors.New("forbidden")
)

var sentinels = map[Kind]error{
	KindAuthentication: ErrAuthentication,
	KindValidation:     ErrValidation,
	KindNotFound:       ErrNotFound,
	KindCapacity:       ErrCapacity,
	KindRaceOutcome:    ErrRaceOutcome,
	KindForbidden:      ErrForbidden,
}

// Error is a typed domain failure returned to callers instead of a bare fault.
type Error struct {
	Kind    Kind
	Message string
	Err     error // optional underlying cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if s, ok := sentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Authentication reports an operation attempted without a resolvable user.
func Authentication(format string, args ...any) error {
	return newf(KindAuthentication, format, args...)
}

// Validation reports a malformed request.
func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }

// NotFound reports a missing message, scope, or user.
func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

// Capacity reports a limit that has been reached.
func Capacity(format string, args ...any) error { return newf(KindCapacity, format, args...) }

// Forbidden reports an authenticated user acting outside their membership.
func Forbidden(format string, args ...any) error { return newf(KindForbidden, format, args...) }

// RaceOutcome reports that a concurrent writer won a read-modify-write sequence.
func RaceOutcome(cause error, format string, args ...any) error {
	e := newf(KindRaceOutcome, format, args...)
	e.Err = cause
	return e
}

// KindOf returns the kind of err, or KindInternal for anything outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	return KindInternal
}
