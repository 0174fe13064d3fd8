/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package typederrors defines the domain error kinds used across the registry, cache, scrub
// manager and lock store. Every kind embeds GenericError so callers can always recover the
// wrapped cause with errors.Unwrap, and can test for a kind with the matching Is* predicate.
package typederrors

import (
	"errors"
	"fmt"
)

// GenericError carries a message and an optional wrapped cause. Specific error kinds embed it.
type GenericError struct {
	Message string
	Err     error
}

func (ge GenericError) Error() string {
	return ge.Message
}

func (ge GenericError) Unwrap() error {
	return ge.Err
}

// NotFoundError is returned when a lookup by key or id finds nothing.
type NotFoundError struct{ GenericError }

func NewNotFoundError(err error, format string, args ...interface{}) error {
	return NotFoundError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsNotFoundError(target error) bool {
	var e NotFoundError
	return errors.As(target, &e)
}

// AlreadyExistsError is returned by Container Manager create on a live duplicate id.
type AlreadyExistsError struct{ GenericError }

func NewAlreadyExistsError(err error, format string, args ...interface{}) error {
	return AlreadyExistsError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsAlreadyExistsError(target error) bool {
	var e AlreadyExistsError
	return errors.As(target, &e)
}

// AlreadyRegisteredError is returned when registering an object id, or a clone under a parent,
// that is already present.
type AlreadyRegisteredError struct{ GenericError }

func NewAlreadyRegisteredError(err error, format string, args ...interface{}) error {
	return AlreadyRegisteredError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsAlreadyRegisteredError(target error) bool {
	var e AlreadyRegisteredError
	return errors.As(target, &e)
}

// NotRegisteredError is returned when an object id has no registration.
type NotRegisteredError struct{ GenericError }

func NewNotRegisteredError(err error, format string, args ...interface{}) error {
	return NotRegisteredError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsNotRegisteredError(target error) bool {
	var e NotRegisteredError
	return errors.As(target, &e)
}

// WrongOwnerError is returned when the caller is not the node currently recorded as the owner.
type WrongOwnerError struct{ GenericError }

func NewWrongOwnerError(err error, format string, args ...interface{}) error {
	return WrongOwnerError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsWrongOwnerError(target error) bool {
	var e WrongOwnerError
	return errors.As(target, &e)
}

// ConflictingUpdateError is returned when a KVC sequence's assertions no longer hold and the
// caller asked not to retry (or the retry budget was exhausted).
type ConflictingUpdateError struct{ GenericError }

func NewConflictingUpdateError(err error, format string, args ...interface{}) error {
	return ConflictingUpdateError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsConflictingUpdateError(target error) bool {
	var e ConflictingUpdateError
	return errors.As(target, &e)
}

// InconsistencyError is returned when an invariant violation is detected while reading registry
// state, e.g. a parent whose type is neither Volume nor Template.
type InconsistencyError struct{ GenericError }

func NewInconsistencyError(err error, format string, args ...interface{}) error {
	return InconsistencyError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsInconsistencyError(target error) bool {
	var e InconsistencyError
	return errors.As(target, &e)
}

// InvalidOperationError is returned for illegal tree operations, e.g. unregistering an object
// that still has descendants.
type InvalidOperationError struct{ GenericError }

func NewInvalidOperationError(err error, format string, args ...interface{}) error {
	return InvalidOperationError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsInvalidOperationError(target error) bool {
	var e InvalidOperationError
	return errors.As(target, &e)
}

// LockHasChangedError is returned by the global lock store when a write's expected tag no longer
// matches the stored value's tag.
type LockHasChangedError struct{ GenericError }

func NewLockHasChangedError(err error, format string, args ...interface{}) error {
	return LockHasChangedError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsLockHasChangedError(target error) bool {
	var e LockHasChangedError
	return errors.As(target, &e)
}

// ScrubError is returned by the Scrub Manager for queueing violations: a reply already queued
// against a different parent, or a namespace/object mismatch.
type ScrubError struct{ GenericError }

func NewScrubError(err error, format string, args ...interface{}) error {
	return ScrubError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsScrubError(target error) bool {
	var e ScrubError
	return errors.As(target, &e)
}

// RetriableError marks a KVC failure (network error, not-master) that is worth one
// reconnect-and-retry before being surfaced to the caller.
type RetriableError struct{ GenericError }

func NewRetriableError(err error, format string, args ...interface{}) error {
	return RetriableError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsRetriableError(target error) bool {
	var e RetriableError
	return errors.As(target, &e)
}

// NonRetriableError marks a KVC failure that must be surfaced immediately, e.g. an assertion
// failure when the caller declined retries.
type NonRetriableError struct{ GenericError }

func NewNonRetriableError(err error, format string, args ...interface{}) error {
	return NonRetriableError{GenericError{fmt.Sprintf(format, args...), err}}
}

func IsNonRetriableError(target error) bool {
	var e NonRetriableError
	return errors.As(target, &e)
}
