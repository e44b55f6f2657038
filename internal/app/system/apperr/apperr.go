// Package apperr classifies failures so the REST and realtime boundaries
// can report them consistently.
//
// Stores keep returning their own sentinel errors; services wrap them with
// a Kind at the point where the meaning is known.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the class of a failure.
type Kind string

const (
	KindValidation Kind = "validation"
	KindPermission Kind = "permission_denied"
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindStorage    Kind = "storage"
	KindDelivery   Kind = "delivery"
	KindRateLimit  Kind = "rate_limited"
	KindInternal   Kind = "internal"
)

// Error is a classified failure. Msg is safe to show to the caller; Err
// is the underlying cause and is only logged.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Msg
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind with no Msg, so callers can
// write errors.Is(err, apperr.Permission).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind markers for errors.Is.
var (
	Validation = &Error{Kind: KindValidation}
	Permission = &Error{Kind: KindPermission}
	NotFound   = &Error{Kind: KindNotFound}
	Conflict   = &Error{Kind: KindConflict}
	Storage    = &Error{Kind: KindStorage}
	Delivery   = &Error{Kind: KindDelivery}
	RateLimit  = &Error{Kind: KindRateLimit}
)

// New returns a classified error with no underlying cause.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap classifies err. A nil err returns nil.
func Wrap(kind Kind, op, msg string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		if e.Kind == KindStorage || e.Kind == KindInternal {
			return "something went wrong; please try again"
		}
		return e.Msg
	}
	return "something went wrong; please try again"
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
