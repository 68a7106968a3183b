package apperr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Kind classifies an error for propagation and for the HTTP status mapping.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindInsufficientStock
	KindStateConflict
	KindPersistence
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInsufficientStock:
		return "insufficient_stock"
	case KindStateConflict:
		return "state_conflict"
	case KindPersistence:
		return "persistence"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Error is the single error type surfaced by the domain packages.
type Error struct {
	Kind    Kind
	Message string

	// Available is set on insufficient stock errors.
	Available int
	// State is set on state conflict errors.
	State string

	cause error
}

// Sentinels matching any error of their kind under errors.Is.
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrStateConflict     = &Error{Kind: KindStateConflict}
	ErrPersistence       = &Error{Kind: KindPersistence}
	ErrNotification      = &Error{Kind: KindNotification}
)

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports kind equality against a bare sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// InsufficientStock reports the quantity currently available.
func InsufficientStock(available int) *Error {
	return &Error{
		Kind:      KindInsufficientStock,
		Message:   fmt.Sprintf("insufficient stock: only %d available", available),
		Available: available,
	}
}

// StateConflict reports the state the entity is currently in.
func StateConflict(msg, state string) *Error {
	return &Error{
		Kind:    KindStateConflict,
		Message: fmt.Sprintf("%s (current state: %s)", msg, state),
		State:   state,
	}
}

// Persistence wraps a storage failure. The message shown to callers never
// contains the driver error; the cause stays reachable for logging.
func Persistence(err error, op string) *Error {
	return &Error{
		Kind:    KindPersistence,
		Message: "internal storage failure",
		cause:   pkgerrors.Wrap(err, op),
	}
}

func Notification(err error, recipient string) *Error {
	return &Error{
		Kind:    KindNotification,
		Message: "notification failed",
		cause:   pkgerrors.Wrapf(err, "notify %s", recipient),
	}
}

// KindOf returns the kind of err, treating unclassified errors as persistence
// failures so they never leak to callers.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindPersistence
}

// Classify converts any error into an *Error. Errors that are already
// classified pass through unchanged.
func Classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Persistence(err, op)
}

// Cause returns the underlying error recorded for logging, or err itself.
func Cause(err error) error {
	var e *Error
	if errors.As(err, &e) && e.cause != nil {
		return e.cause
	}
	return err
}
