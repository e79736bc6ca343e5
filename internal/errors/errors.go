package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthenticated ErrorCode = "UNAUTHENTICATED"
	ErrCodeTokenExpired    ErrorCode = "TOKEN_EXPIRED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeNotAMember      ErrorCode = "NOT_A_MEMBER"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"
	ErrCodeInvalidSequence ErrorCode = "INVALID_SEQUENCE"

	// Resource
	ErrCodeRoomNotFound ErrorCode = "ROOM_NOT_FOUND"

	// Flow control
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeSlowConsumer      ErrorCode = "SLOW_CONSUMER"

	// Dependencies
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeExternal         ErrorCode = "EXTERNAL_SERVICE_ERROR"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthenticated(message string) *AppError {
	return New(ErrCodeUnauthenticated, message)
}

func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Credential has expired")
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func NotAMember(roomKey string) *AppError {
	return New(ErrCodeNotAMember, fmt.Sprintf("Session has not joined %s", roomKey))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidSequence(requested, highest int64) *AppError {
	return New(ErrCodeInvalidSequence, fmt.Sprintf("Sequence %d is beyond the highest persisted sequence %d", requested, highest)).
		WithDetails(map[string]int64{"requested": requested, "highest": highest})
}

func RoomNotFound(orderID string) *AppError {
	return New(ErrCodeRoomNotFound, fmt.Sprintf("Order %s not found", orderID))
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func SlowConsumer() *AppError {
	return New(ErrCodeSlowConsumer, "Outbound queue overflow")
}

func StoreUnavailable(cause error) *AppError {
	return Wrap(ErrCodeStoreUnavailable, "Message store unavailable", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}
