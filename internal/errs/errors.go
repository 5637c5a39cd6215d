// Package errs provides the unified error type used across sproc.
//
// Drivers wrap their native errors into *errs.Error before returning them,
// and the executor and mapper raise their own kinds through the same type.
// Callers branch on the Is* predicates and never import driver packages.
//
// Usage:
//
//	users, err := procedure.Multiple[User](ctx, exec, "sp_get_users", nil)
//	if errs.IsParameterCount(err) {
//	    // odd-length parameter list, nothing was sent to the database
//	}
package errs

import (
	"errors"
	"fmt"
)

// ErrKind categorises an error without exposing driver-specific codes.
type ErrKind int

const (
	ErrKindUnknown ErrKind = iota

	// Raised by the core.
	ErrKindParameterCount  // odd-length name/value parameter list
	ErrKindConstruction    // target type cannot be constructed
	ErrKindAmbiguousResult // more than one table where one was expected
	ErrKindMultipleResults // more than one row where at most one was expected
	ErrKindInvalidCast     // scalar not assignable to the requested type
	ErrKindUnmappable      // strict mapping found a field it could not fill

	// Raised by the execution layer.
	ErrKindNotFound         // no rows, no object, no procedure
	ErrKindConnectionFailed // cannot reach the backend
	ErrKindTimeout          // context deadline / cancellation
	ErrKindQueryFailed      // procedure or storage operation error
	ErrKindInvalidInput     // bad arguments from the caller
	ErrKindPermissionDenied // access denied / auth failure
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindParameterCount:
		return "parameter_count"
	case ErrKindConstruction:
		return "construction"
	case ErrKindAmbiguousResult:
		return "ambiguous_result"
	case ErrKindMultipleResults:
		return "multiple_results"
	case ErrKindInvalidCast:
		return "invalid_cast"
	case ErrKindUnmappable:
		return "unmappable"
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindQueryFailed:
		return "query_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every sproc package.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsParameterCount reports whether err was caused by an odd-length parameter list.
func IsParameterCount(err error) bool {
	return KindOf(err) == ErrKindParameterCount
}

// IsConstruction reports whether the mapper could not build the target type.
func IsConstruction(err error) bool {
	return KindOf(err) == ErrKindConstruction
}

// IsAmbiguousResult reports whether more than one table came back
// where exactly one was expected.
func IsAmbiguousResult(err error) bool {
	return KindOf(err) == ErrKindAmbiguousResult
}

// IsMultipleResults reports whether more than one row came back
// where at most one was expected.
func IsMultipleResults(err error) bool {
	return KindOf(err) == ErrKindMultipleResults
}

// IsInvalidCast reports whether a scalar could not be cast to the requested type.
func IsInvalidCast(err error) bool {
	return KindOf(err) == ErrKindInvalidCast
}

// IsUnmappable reports whether strict mapping rejected a row.
func IsUnmappable(err error) bool {
	return KindOf(err) == ErrKindUnmappable
}

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsQueryFailed reports whether err is a backend operation failure.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQueryFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// KindOf extracts the ErrKind from the first *Error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}
