// Package errors provides error handling for ticketpulse.
//
// It re-exports github.com/cockroachdb/errors so every package wraps, annotates and
// inspects errors the same way:
//
//	if err := store.Create(rec); err != nil {
//	    err = errors.Wrap(err, "failed to open execution record")
//	    return errors.WithDetail(err, "Correlation ID: "+id)
//	}
//
// Details attached with WithDetail are kept out of Error() so they never leak into
// ticket comments or history rows; use GetAllDetails when logging.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// Operator-facing annotations
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
	Mark             = crdb.Mark
)

// Sentinel errors shared across packages. Wrap them to add context; check them with Is.
var (
	// ErrNotFound indicates the requested record or job does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates malformed input (bad event payload, bad config)
	ErrInvalidRequest = New("invalid request")

	// ErrUnauthorized indicates a collaborator rejected our credentials
	ErrUnauthorized = New("unauthorized")

	// ErrServiceUnavailable indicates a collaborator is not reachable or not configured
	ErrServiceUnavailable = New("service unavailable")

	// ErrTimeout indicates an operation ran past its deadline
	ErrTimeout = New("operation timed out")

	// ErrConflict indicates a state transition that is not permitted
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsTimeoutError checks if an error is or wraps ErrTimeout
func IsTimeoutError(err error) bool {
	return err != nil && Is(err, ErrTimeout)
}

// IsConflictError checks if an error is or wraps ErrConflict
func IsConflictError(err error) bool {
	return err != nil && Is(err, ErrConflict)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidRequest, Newf(format, args...).Error())
}

// NewConflictError creates a conflict error with a formatted message
func NewConflictError(format string, args ...interface{}) error {
	return Wrap(ErrConflict, Newf(format, args...).Error())
}
