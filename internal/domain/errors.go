package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure for callers; transport maps it to a status code.
type ErrorKind string

const (
	KindNotFound       ErrorKind = "not_found"
	KindAlreadySettled ErrorKind = "already_settled"
	KindInvalidAmount  ErrorKind = "invalid_amount"
	KindInvalidState   ErrorKind = "invalid_state"
	KindConflict       ErrorKind = "conflict"
	KindStorage        ErrorKind = "storage"
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// holds for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "resource not found"}
	ErrAlreadySettled = &Error{Kind: KindAlreadySettled, Message: "obligation is already settled"}
	ErrInvalidAmount  = &Error{Kind: KindInvalidAmount, Message: "amount must be positive"}
	ErrInvalidState   = &Error{Kind: KindInvalidState, Message: "operation not allowed in current state"}
	ErrConflict       = &Error{Kind: KindConflict, Message: "resource is busy"}
)

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func AlreadySettled(obligationID string) *Error {
	return &Error{Kind: KindAlreadySettled, Message: fmt.Sprintf("obligation %s is already settled", obligationID)}
}

func InvalidAmount(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidAmount, Message: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a persistence failure.
func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Message: op, Err: err}
}

// KindOf reports the kind of err; unclassified errors count as storage failures.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindStorage
}
