// Package errs defines the error kinds surfaced by the tracking and alerting
// components.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how callers should react to it.
type Kind string

const (
	// KindValidation covers unknown ids and invalid state transitions.
	KindValidation Kind = "validation"
	// KindConfiguration covers channels or rules referenced but not configured.
	KindConfiguration Kind = "configuration"
	// KindDelivery covers failed channel adapter calls.
	KindDelivery Kind = "delivery"
	// KindPersistence covers an unavailable durable store.
	KindPersistence Kind = "persistence"
)

// ErrNotFound is wrapped by validation errors for unknown ids.
var ErrNotFound = errors.New("not found")

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{e.Op, e.Msg} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation returns a validation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound returns a validation error wrapping ErrNotFound.
func NotFound(op, what, id string) *Error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf("%s %q", what, id), Err: ErrNotFound}
}

// Configuration returns a configuration error.
func Configuration(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Delivery wraps an adapter failure.
func Delivery(op string, err error) *Error {
	return &Error{Kind: KindDelivery, Op: op, Err: err}
}

// Persistence wraps a store failure.
func Persistence(op string, err error) *Error {
	return &Error{Kind: KindPersistence, Op: op, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err's chain contains an error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
