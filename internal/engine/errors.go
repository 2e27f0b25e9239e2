package engine

import (
	"errors"
	"fmt"
)

// Code classifies command-level errors surfaced to callers.
type Code string

const (
	CodeValidation        Code = "ValidationError"
	CodeInvalidTransition Code = "InvalidTransition"
	CodeNotFound          Code = "NotFound"
	CodeInternal          Code = "InternalError"
)

// Error is a structured command error. Control-plane misuse is always
// reported through one of these, never as an opaque string.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	return string(e.Code) + ": " + e.Message
}

func NewValidation(format string, args ...interface{}) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

func NewInvalidTransition(format string, args ...interface{}) error {
	return &Error{Code: CodeInvalidTransition, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(format string, args ...interface{}) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewInternal(format string, args ...interface{}) error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, defaulting to InternalError for
// unclassified failures.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// retryableError marks a transient downstream failure worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// terminalError marks a permanent downstream failure. No further
// attempts are made for the subtask.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

// Retryable wraps err as a transient execution failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// Terminal wraps err as a permanent execution failure.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// IsTerminal reports whether err was classified as permanent. Anything
// not explicitly terminal (including timeouts and unclassified errors)
// is treated as retryable until attempts run out.
func IsTerminal(err error) bool {
	var t *terminalError
	return errors.As(err, &t)
}
