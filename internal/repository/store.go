package repository

import (
	"context"

	"github.com/orderlink/realtime-server-go/internal/model"
)

// MessageStore persists chat history. Append assigns the next sequence of
// the room atomically with the insert.
type MessageStore interface {
	Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error)
	// Page returns messages strictly older than before (newest first when
	// before is nil), in descending sequence order.
	Page(ctx context.Context, roomID string, before *int64, limit int) ([]model.Message, error)
	HighestSequence(ctx context.Context, roomID string) (int64, error)
}

type ReadMarkerStore interface {
	// Find returns nil when the principal has never read the room.
	Find(ctx context.Context, roomID, principalID string) (*model.ReadMarker, error)
	// Advance moves the marker forward to upTo. A lower or equal value
	// leaves it unchanged and reports advanced=false.
	Advance(ctx context.Context, roomID, principalID string, upTo int64) (marker *model.ReadMarker, advanced bool, err error)
}

// UnreadCounter keeps per-principal unread counts keyed by order.
type UnreadCounter interface {
	Increment(ctx context.Context, principalID, orderID string) (int64, error)
	Set(ctx context.Context, principalID, orderID string, count int64) error
	All(ctx context.Context, principalID string) (map[string]int64, error)
}

// LocationStore keeps the last known sample per order so a snapshot can
// be served after the in-memory room is gone.
type LocationStore interface {
	Save(ctx context.Context, sample model.LocationSample) error
	Find(ctx context.Context, orderID string) (*model.LocationSample, error)
}
