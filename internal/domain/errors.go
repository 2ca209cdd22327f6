package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindNotFound             Kind = "not_found"
	KindForbidden            Kind = "forbidden"
	KindLessonClosed         Kind = "lesson_closed"
	KindLessonFull           Kind = "lesson_full"
	KindInsufficientCapacity Kind = "insufficient_capacity"
	KindInvalidQuantity      Kind = "invalid_quantity"
	KindValidation           Kind = "validation"
	KindStorage              Kind = "storage"
)

// UnavailableMessage prefixes capacity and lock-out errors. Clients match on it.
const UnavailableMessage = "lesson is no longer available for booking"

// Error is a typed, user-facing error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind when the target is one of the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrLessonClosed         = &Error{Kind: KindLessonClosed}
	ErrLessonFull           = &Error{Kind: KindLessonFull}
	ErrInsufficientCapacity = &Error{Kind: KindInsufficientCapacity}
	ErrInvalidQuantity      = &Error{Kind: KindInvalidQuantity}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrStorage              = &Error{Kind: KindStorage}
)

func NewError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(what string, id interface{}) *Error {
	return NewError(KindNotFound, "%s %v not found", what, id)
}

func Validation(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error()}
}

// WrapStorage marks err as a retryable storage failure. Typed errors pass through unchanged.
func WrapStorage(err error, op string) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in the chain, or KindStorage for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindStorage
}
