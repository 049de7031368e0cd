package client

import (
	"fmt"
)

type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota
	ErrorConnection
	ErrorNotConnected
	ErrorReconnectExhausted
	ErrorSerialization
	ErrorServer
	ErrorInvalidState
	ErrorInvalidConfig
)

func (e ErrorCode) String() string {
	switch e {
	case ErrorConnection:
		return "connection_error"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorReconnectExhausted:
		return "reconnect_exhausted"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorServer:
		return "server_error"
	case ErrorInvalidState:
		return "invalid_state"
	case ErrorInvalidConfig:
		return "invalid_config"
	default:
		return fmt.Sprintf("unknown_code_%d", int(e))
	}
}

// SessionError is a structured error with a code and context.
type SessionError struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

func (e *SessionError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SessionError) Unwrap() error {
	return e.Wrapped
}

// Is matches on the code so callers can test categories with errors.Is.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewError(code ErrorCode, message string) *SessionError {
	return &SessionError{Code: code, Message: message}
}

func WrapError(code ErrorCode, message string, err error) *SessionError {
	return &SessionError{Code: code, Message: message, Wrapped: err}
}
