package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeRoomNotFound, "Order not found")
		assert.Equal(t, "ROOM_NOT_FOUND: Order not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := StoreUnavailable(cause)
		assert.Contains(t, err.Error(), "STORE_UNAVAILABLE")
		assert.Contains(t, err.Error(), "Message store unavailable")
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "orderId"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"Unauthenticated", func() *AppError { return Unauthenticated("test") }, ErrCodeUnauthenticated},
		{"TokenExpired", func() *AppError { return TokenExpired() }, ErrCodeTokenExpired},
		{"Forbidden", func() *AppError { return Forbidden("test") }, ErrCodeForbidden},
		{"NotAMember", func() *AppError { return NotAMember("chat:order-1") }, ErrCodeNotAMember},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("lat", "out of range") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("orderId") }, ErrCodeMissingRequired},
		{"InvalidSequence", func() *AppError { return InvalidSequence(5, 3) }, ErrCodeInvalidSequence},
		{"RoomNotFound", func() *AppError { return RoomNotFound("order-1") }, ErrCodeRoomNotFound},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"SlowConsumer", func() *AppError { return SlowConsumer() }, ErrCodeSlowConsumer},
		{"StoreUnavailable", func() *AppError { return StoreUnavailable(nil) }, ErrCodeStoreUnavailable},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestInvalidSequenceDetails(t *testing.T) {
	err := InvalidSequence(7, 4)
	assert.Equal(t, map[string]int64{"requested": 7, "highest": 4}, err.Details)
	assert.Contains(t, err.Message, "7")
	assert.Contains(t, err.Message, "4")
}

func TestExternal(t *testing.T) {
	t.Run("wraps external service error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := External("order directory", cause)
		assert.Equal(t, ErrCodeExternal, err.Code)
		assert.Contains(t, err.Message, "order directory")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := Forbidden("nope")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("extracts AppError through fmt wrapping", func(t *testing.T) {
		original := RoomNotFound("order-9")
		wrapped := fmt.Errorf("join room: %w", original)
		extracted, ok := AsAppError(wrapped)
		assert.True(t, ok)
		assert.Equal(t, ErrCodeRoomNotFound, extracted.Code)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeForbidden, GetCode(Forbidden("x")))
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("standard error")))
}

func TestIs(t *testing.T) {
	assert.True(t, Is(InvalidSequence(2, 1), ErrCodeInvalidSequence))
	assert.False(t, Is(InvalidSequence(2, 1), ErrCodeForbidden))
	assert.False(t, Is(nil, ErrCodeInternal))
}
