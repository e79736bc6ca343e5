package handler

import (
	"net/http"
	"strconv"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
)

// HistoryParams is the cursor of a history request. A nil Before means
// the newest page; a zero Limit means the configured default.
type HistoryParams struct {
	Before *int64
	Limit  int
}

func ParseHistoryParams(r *http.Request) (HistoryParams, error) {
	var params HistoryParams
	q := r.URL.Query()

	if raw := q.Get("before"); raw != "" {
		before, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || before < 1 {
			return params, apperrors.InvalidInput("before", "must be a positive integer")
		}
		params.Before = &before
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return params, apperrors.InvalidInput("limit", "must be a positive integer")
		}
		params.Limit = limit
	}

	return params, nil
}
