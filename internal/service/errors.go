package service

import (
	"errors"
	"fmt"
)

// Error kinds. Handlers classify with errors.Is and show the Msg of the
// nearest *Error, or the kind itself.
var (
	ErrValidation      = errors.New("invalid request")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidState    = errors.New("invalid state")
	ErrConflict        = errors.New("conflict")
)

// Error is a classified failure whose Msg is shown to the client as is.
type Error struct {
	Kind error
	Msg  string
}

func NewError(kind error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

var (
	ErrPoolNotFound = NewError(ErrNotFound, "pool not found")
	ErrUserNotFound = NewError(ErrNotFound, "user not found")

	ErrPoolNotActive = NewError(ErrInvalidState, "pool is no longer active")
	ErrPoolExpired   = NewError(ErrInvalidState, "pool has expired")
	ErrAlreadyMember = NewError(ErrInvalidState, "already a member of this pool")
	ErrPoolFull      = NewError(ErrInvalidState, "pool is full")

	ErrNotCreator         = NewError(ErrForbidden, "only the pool creator can do this")
	ErrCreatorCannotLeave = NewError(ErrForbidden, "the creator cannot leave their own pool")
	ErrNotMember          = NewError(ErrForbidden, "not a member of this pool")

	ErrEmailTaken         = NewError(ErrConflict, "email already registered")
	ErrInvalidCredentials = NewError(ErrUnauthenticated, "invalid email or password")
)

func validationError(format string, args ...any) error {
	return NewError(ErrValidation, fmt.Sprintf(format, args...))
}
