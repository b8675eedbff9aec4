// Panobench - Street-View Navigation Benchmark Platform
// Copyright 2026 Panobench Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/panobench/panobench

package model

import (
	"errors"
	"fmt"
)

// ErrorKind is the error taxonomy transported in API responses.
type ErrorKind string

const (
	// ErrNotFound: unknown session, task, or geofence.
	ErrNotFound ErrorKind = "not_found"

	// ErrInvalidState: action issued while session is not running or paused.
	ErrInvalidState ErrorKind = "invalid_state"

	// ErrInvalidArgument: malformed action shape, unknown move_id,
	// out-of-range pitch.
	ErrInvalidArgument ErrorKind = "invalid_argument"

	// ErrOutsideGeofence: move target excluded by the task's whitelist.
	ErrOutsideGeofence ErrorKind = "outside_geofence"

	// ErrUnavailable: transient upstream failure after all retries.
	ErrUnavailable ErrorKind = "unavailable"

	// ErrInternal: unexpected failure; surfaces as HTTP 500.
	ErrInternal ErrorKind = "internal"
)

// Error is a typed runtime error carrying an ErrorKind for the API layer.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a typed error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a typed error wrapping a cause.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}
