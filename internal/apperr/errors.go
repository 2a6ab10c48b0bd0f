// Package apperr is the error taxonomy shared by the catalog and order
// components. Every failure surfaced to a caller carries a machine-checkable
// Kind next to the human message.
package apperr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindInsufficientStock Kind = "insufficient_stock"
	KindInvalidInput      Kind = "invalid_input"
	KindForbidden         Kind = "forbidden"
	KindInvalidState      Kind = "invalid_state"
	KindStorage           Kind = "storage"
)

type Error struct {
	Kind Kind
	Msg  string
	// BookID identifies the offending book for stock failures.
	BookID uuid.UUID
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the Kind from err, or KindStorage for anything untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

func BookNotFound(id uuid.UUID) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("book not found: %s", id), BookID: id}
}

func OrderNotFound(id uuid.UUID) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("order not found: %s", id)}
}

func InsufficientStock(id uuid.UUID) *Error {
	return &Error{Kind: KindInsufficientStock, Msg: fmt.Sprintf("insufficient stock for book: %s", id), BookID: id}
}

func InvalidInput(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Msg: msg}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Msg: fmt.Sprintf(format, args...)}
}

func Storage(op string, err error) *Error {
	return &Error{Kind: KindStorage, Msg: op, Err: err}
}
