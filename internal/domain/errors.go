package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies faults surfaced through structured results.
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindEngineFailure         ErrorKind = "engine_failure"
	KindEngineCancelled       ErrorKind = "engine_cancelled"
	KindIOFailure             ErrorKind = "io_failure"
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindPermissionUnavailable ErrorKind = "permission_unavailable"
	KindAlreadyActive         ErrorKind = "already_active"
	KindInternal              ErrorKind = "internal"
)

// Error is a kind-tagged error carried across component boundaries.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds a kind-tagged error wrapping an optional cause.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error formats the message with its cause when present.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil || e.Err.Error() == e.Message {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var tagged *Error
	if errors.As(err, &tagged) && tagged.Kind != "" {
		return tagged.Kind
	}
	return KindInternal
}
