package httputil

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string              `json:"error"`
	Code    apperrors.ErrorCode `json:"code"`
	Details any                 `json:"details,omitempty"`
}

// WriteError writes an AppError as an HTTP response with appropriate status code
func WriteError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		appErr = apperrors.Internal("An unexpected error occurred")
	}

	WriteJSON(w, StatusFromCode(appErr.Code), ErrorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Details,
	})
}

// StatusFromCode maps ErrorCode to HTTP status code
func StatusFromCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation,
		apperrors.ErrCodeInvalidInput,
		apperrors.ErrCodeMissingRequired,
		apperrors.ErrCodeInvalidSequence:
		return http.StatusBadRequest

	case apperrors.ErrCodeUnauthenticated,
		apperrors.ErrCodeTokenExpired:
		return http.StatusUnauthorized

	case apperrors.ErrCodeForbidden,
		apperrors.ErrCodeNotAMember:
		return http.StatusForbidden

	case apperrors.ErrCodeRoomNotFound:
		return http.StatusNotFound

	case apperrors.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests

	case apperrors.ErrCodeExternal:
		return http.StatusBadGateway

	case apperrors.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}
