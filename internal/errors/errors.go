package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mir00r/headmaster/internal/domain"
)

// ErrorCode represents a specific error type for better error handling
type ErrorCode string

const (
	// Session errors
	ErrCodeClientRejected ErrorCode = "CLIENT_REJECTED"
	ErrCodeNoBackends     ErrorCode = "NO_BACKENDS_AVAILABLE"
	ErrCodeConnectFailed  ErrorCode = "CONNECT_FAILED"
	ErrCodeConnectTimeout ErrorCode = "CONNECT_TIMEOUT"
	ErrCodeReadFailed     ErrorCode = "READ_FAILED"
	ErrCodeReadTimeout    ErrorCode = "READ_TIMEOUT"
	ErrCodeWriteFailed    ErrorCode = "WRITE_FAILED"
	ErrCodeWriteTimeout   ErrorCode = "WRITE_TIMEOUT"

	// Startup errors
	ErrCodeBindFailed ErrorCode = "BIND_FAILED"
	ErrCodeConfigLoad ErrorCode = "CONFIG_LOAD_FAILED"

	// Admin errors
	ErrCodeBackendNotFound ErrorCode = "BACKEND_NOT_FOUND"
	ErrCodeInvalidAddress  ErrorCode = "INVALID_ADDRESS"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ProxyError represents a structured error with context
type ProxyError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Cause     error                  `json:"-"`
}

// Error implements the error interface
func (e *ProxyError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s: %s", e.Code, e.Component, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *ProxyError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error code
func (e *ProxyError) Is(target error) bool {
	if t, ok := target.(*ProxyError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithMetadata adds metadata to the error
func (e *ProxyError) WithMetadata(key string, value interface{}) *ProxyError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// IsTimeout reports whether the code is one of the timeout kinds
func (e *ProxyError) IsTimeout() bool {
	switch e.Code {
	case ErrCodeConnectTimeout, ErrCodeReadTimeout, ErrCodeWriteTimeout:
		return true
	default:
		return false
	}
}

// Outcome maps a session error code onto the outcome taxonomy. ok is false
// for codes that are not terminal session outcomes.
func (e *ProxyError) Outcome() (outcome domain.Outcome, ok bool) {
	switch e.Code {
	case ErrCodeConnectFailed:
		return domain.OutcomeConnectFailure, true
	case ErrCodeConnectTimeout:
		return domain.OutcomeConnectTimeout, true
	case ErrCodeReadFailed:
		return domain.OutcomeReadFailure, true
	case ErrCodeReadTimeout:
		return domain.OutcomeReadTimeout, true
	case ErrCodeWriteFailed:
		return domain.OutcomeWriteFailure, true
	case ErrCodeWriteTimeout:
		return domain.OutcomeWriteTimeout, true
	default:
		return domain.OutcomeSuccess, false
	}
}

// NewError creates a new ProxyError
func NewError(code ErrorCode, component, message string) *ProxyError {
	return &ProxyError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WrapError wraps an existing error with ProxyError structure
func WrapError(err error, code ErrorCode, component, message string) *ProxyError {
	if err == nil {
		return nil
	}

	return &ProxyError{
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Details:   err.Error(),
	}
}

// IsTimeoutError reports whether err is a deadline expiring rather than a
// hard I/O failure
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewConnectError classifies a dial error as connect failure or timeout
func NewConnectError(backend string, err error) *ProxyError {
	code := ErrCodeConnectFailed
	if IsTimeoutError(err) {
		code = ErrCodeConnectTimeout
	}
	return WrapError(err, code, "forwarder", fmt.Sprintf("dial backend %s", backend)).
		WithMetadata("backend", backend)
}

// NewReadError classifies an error reading a direction's source
func NewReadError(direction string, err error) *ProxyError {
	code := ErrCodeReadFailed
	if IsTimeoutError(err) {
		code = ErrCodeReadTimeout
	}
	return WrapError(err, code, "forwarder", fmt.Sprintf("read %s", direction)).
		WithMetadata("direction", direction)
}

// NewWriteError classifies an error writing a direction's destination
func NewWriteError(direction string, err error) *ProxyError {
	code := ErrCodeWriteFailed
	if IsTimeoutError(err) {
		code = ErrCodeWriteTimeout
	}
	return WrapError(err, code, "forwarder", fmt.Sprintf("write %s", direction)).
		WithMetadata("direction", direction)
}

// NewClientRejectedError creates an error for a blacklisted client
func NewClientRejectedError(client string) *ProxyError {
	return NewError(ErrCodeClientRejected, "pool", "client is blacklisted").
		WithMetadata("client", client)
}

// NewNoBackendsError creates an error when no backends are available
func NewNoBackendsError() *ProxyError {
	return NewError(ErrCodeNoBackends, "pool", "no backend available for client")
}

// NewBindError creates a fatal startup error for an unbindable address
func NewBindError(address string, cause error) *ProxyError {
	return WrapError(cause, ErrCodeBindFailed, "transport", fmt.Sprintf("cannot bind %s", address)).
		WithMetadata("address", address)
}

// NewBackendNotFoundError creates an error for an address absent from the pool
func NewBackendNotFoundError(address string) *ProxyError {
	return NewError(ErrCodeBackendNotFound, "pool", fmt.Sprintf("backend %s not found", address)).
		WithMetadata("address", address)
}

// NewInvalidAddressError creates an error for an unparsable endpoint
func NewInvalidAddressError(address string, cause error) *ProxyError {
	e := NewError(ErrCodeInvalidAddress, "pool", fmt.Sprintf("invalid address %q", address))
	if cause != nil {
		e.Cause = cause
		e.Details = cause.Error()
	}
	return e.WithMetadata("address", address)
}

// AsProxyError extracts a ProxyError from an error chain
func AsProxyError(err error) (*ProxyError, bool) {
	var pErr *ProxyError
	if errors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error
func GetErrorCode(err error) ErrorCode {
	if pErr, ok := AsProxyError(err); ok {
		return pErr.Code
	}
	return ErrCodeInternalError
}
