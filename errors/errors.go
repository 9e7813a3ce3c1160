// Package errors provides error handling for resourcewatch.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Marking errors with sentinel categories without losing the cause
//
// Usage:
//
//	// Wrap with context
//	if err := src.List(ctx, tenant); err != nil {
//	    return errors.Wrap(err, "list resources")
//	}
//
//	// Mark an adapter failure so the core can branch on it
//	return errors.Mark(errors.Wrap(err, "GET listing"), errors.ErrSourceUnavailable)
//
//	// Check errors
//	if errors.Is(err, errors.ErrStoreFailed) {
//	    // state backend is down
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
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

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Sentinel categories. Adapters mark their failures with these so the core
// can classify them with Is() while the original cause stays in the chain.
var (
	// ErrNotFound indicates the requested resource or state does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrSourceUnavailable indicates the resource listing could not be obtained
	ErrSourceUnavailable = New("source unavailable")

	// ErrFetchFailed indicates a single resource payload could not be fetched
	ErrFetchFailed = New("fetch failed")

	// ErrStoreFailed indicates the state backend rejected a read or write
	ErrStoreFailed = New("store failed")

	// ErrDuplicateResourceID indicates a listing contained the same resource id twice
	ErrDuplicateResourceID = New("duplicate resource id")

	// ErrStateSaveFailed indicates a resource outcome could not be persisted
	ErrStateSaveFailed = New("state save failed")

	// ErrNoAction is returned by an action that declines to act on a payload
	ErrNoAction = New("no action")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}
