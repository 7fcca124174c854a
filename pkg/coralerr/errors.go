// Package coralerr defines the closed error taxonomy Coral propagates
// across the master/slave control plane (spec §7).
package coralerr

import (
	"errors"
	"fmt"
)

// Code is one of the error kinds a Coral operation can fail with.
type Code int

const (
	// Unknown marks an Error constructed without an explicit code; it
	// should never appear on the wire or in a user-visible result.
	Unknown Code = iota

	// TimedOut means no reply arrived within the deadline.
	TimedOut
	// BadMessage means malformed framing or an unknown message type.
	BadMessage
	// PermissionDenied means a HELLO was rejected.
	PermissionDenied
	// ConnectionRefused means the peer returned an explicit ERROR at connect.
	ConnectionRefused
	// ProtocolNotSupported means no handler exists for the requested version.
	ProtocolNotSupported
	// OperationFailed means the server acknowledged but could not perform the request.
	OperationFailed
	// Fatal means the server returned a fatal-error message; the connection is closed.
	Fatal
	// Aborted means the caller cancelled the operation.
	Aborted
	// DataTimeout means the input barrier did not receive all samples in time.
	DataTimeout
	// CannotPerformTimestep means the slave returned STEP_FAILED.
	CannotPerformTimestep
)

func (c Code) String() string {
	switch c {
	case TimedOut:
		return "TimedOut"
	case BadMessage:
		return "BadMessage"
	case PermissionDenied:
		return "PermissionDenied"
	case ConnectionRefused:
		return "ConnectionRefused"
	case ProtocolNotSupported:
		return "ProtocolNotSupported"
	case OperationFailed:
		return "OperationFailed"
	case Fatal:
		return "Fatal"
	case Aborted:
		return "Aborted"
	case DataTimeout:
		return "DataTimeout"
	case CannotPerformTimestep:
		return "CannotPerformTimestep"
	default:
		return "Unknown"
	}
}

// Error is a Coral error carrying one of the closed Codes plus a
// human-readable detail and an optional wrapped cause.
type Error struct {
	Code   Code
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an Error with the given code and formatted detail.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that carries cause as its Unwrap target.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the Code from err, defaulting to Unknown if err is not
// (or does not wrap) a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
