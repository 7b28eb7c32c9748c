package service

import (
	"errors"
	"fmt"
)

// Kind classifies expected, user-facing failures.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindForbidden  Kind = "forbidden"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
)

// Error is a structured business-rule failure. Anything else returned by
// the service is unexpected.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is a service Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

var (
	errGuestRequired    = newError(KindAuth, "Guest session is required")
	errWishlistClosed   = newError(KindConflict, "Wishlist is closed")
	errItemNotFound     = newError(KindNotFound, "Item not found")
	errItemInactive     = newError(KindConflict, "Item is not active")
	errWishlistNotFound = newError(KindNotFound, "Wishlist not found")
	errLockBusy         = newError(KindConflict, "Item is busy, please retry")
)

func isServiceError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
