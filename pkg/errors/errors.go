// Package errors defines custom error types and error handling utilities for the certforge service.
// Every failure carries a Code so callers can classify it without string matching.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code defines the type for error codes.
type Code string

const (
	// CodeInvalidArgument indicates a caller-supplied argument is invalid.
	CodeInvalidArgument Code = "invalid_argument"
	// CodeProtocol indicates the peer violated the wire protocol.
	CodeProtocol Code = "protocol_error"
	// CodeEmptyName indicates the peer sent a terminator without a name.
	CodeEmptyName Code = "empty_name"
	// CodeNameTooLong indicates the name exceeded the configured cap.
	CodeNameTooLong Code = "name_too_long"
	// CodeIssuanceFailed indicates the credential issuer could not produce a bundle.
	CodeIssuanceFailed Code = "issuance_failed"
	// CodeTransport indicates a socket level failure.
	CodeTransport Code = "transport_error"
	// CodeConfig indicates invalid or unloadable configuration.
	CodeConfig Code = "config_error"
	// CodeInternal indicates an internal server error.
	CodeInternal Code = "internal"
	// CodePoolClosed indicates a job was submitted to, or dropped by, a closed worker pool.
	CodePoolClosed Code = "pool_closed"
	// CodeCallbackPanic indicates a reactor callback panicked.
	CodeCallbackPanic Code = "callback_panic"
	// CodeRejected indicates the server answered with the empty failure response.
	CodeRejected Code = "rejected"
)

// ================================================================================
// Error Type
// ================================================================================

// Error represents a structured error with a code, a message and an optional cause.
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code
func (e *Error) Code() Code {
	return e.code
}

// Message returns the message without the cause
func (e *Error) Message() string {
	return e.message
}

// Unwrap returns the underlying cause error
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code, so sentinel
// values match any error of their class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.code == e.code && (t.message == "" || t.message == e.message)
}

// WithMetadata returns a copy of the error carrying an additional key/value pair
func (e *Error) WithMetadata(key string, value interface{}) *Error {
	clone := *e
	clone.metadata = make(map[string]interface{}, len(e.metadata)+1)
	for k, v := range e.metadata {
		clone.metadata[k] = v
	}
	clone.metadata[key] = value
	return &clone
}

// Metadata returns all metadata
func (e *Error) Metadata() map[string]interface{} {
	return e.metadata
}

// ================================================================================
// Constructors
// ================================================================================

// New creates a new Error. The message may contain fmt verbs consumed by args.
func New(code Code, msg string, args ...interface{}) *Error {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{code: code, message: msg}
}

// Wrap wraps err with a code and message. A nil err yields nil.
func Wrap(err error, code Code, msg string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	e := New(code, msg, args...)
	e.cause = err
	return e
}

// ================================================================================
// Predefined Errors
// ================================================================================

var (
	// ErrEmptyName is returned when a terminator arrives before any name byte.
	ErrEmptyName = New(CodeEmptyName, "empty name")

	// ErrNameTooLong is returned when the name accumulator would exceed its cap.
	ErrNameTooLong = New(CodeNameTooLong, "name exceeds length limit")

	// ErrPoolClosed is returned for jobs submitted after the worker pool closed.
	ErrPoolClosed = New(CodePoolClosed, "worker pool is closed")
)

// ================================================================================
// Helpers
// ================================================================================

// CodeOf returns the code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// IsProtocolError reports whether err is a peer protocol violation.
func IsProtocolError(err error) bool {
	return IsCode(err, CodeProtocol) || IsCode(err, CodeEmptyName) || IsCode(err, CodeNameTooLong)
}
