package scratchomised

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Protocol errors (inbound frames)
	ErrorSerialization
	ErrorInvalidMessage
	ErrorMissingArgument
	ErrorUnknownAction

	// Transport and session errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout
	ErrorSubprotocol
	ErrorNotConnected
	ErrorRetriesExhausted
	ErrorInvalidConfig
	ErrorClosed
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorInvalidMessage:
		return "invalid_message"
	case ErrorMissingArgument:
		return "missing_argument"
	case ErrorUnknownAction:
		return "unknown_action"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorSubprotocol:
		return "subprotocol_mismatch"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorRetriesExhausted:
		return "retries_exhausted"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// CodeOf returns the code of the first *Error in err's chain, or ErrorUnknown.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorUnknown
}

// IsProtocolError checks if an error came from decoding or routing a frame.
func IsProtocolError(err error) bool {
	if err == nil {
		return false
	}
	code := CodeOf(err)
	return code >= ErrorSerialization && code <= ErrorUnknownAction
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout, ErrorSubprotocol:
		return true
	default:
		return false
	}
}
