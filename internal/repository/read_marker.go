package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/orderlink/realtime-server-go/internal/database"
	"github.com/orderlink/realtime-server-go/internal/model"
)

type readMarkerRepo struct {
	db database.DBTX
}

func NewReadMarkerRepository(db database.DBTX) ReadMarkerStore {
	return &readMarkerRepo{db: db}
}

func (r *readMarkerRepo) Find(ctx context.Context, roomID, principalID string) (*model.ReadMarker, error) {
	var marker model.ReadMarker
	err := r.db.GetContext(ctx, &marker, `
		SELECT * FROM read_markers WHERE room_id = $1 AND principal_id = $2
	`, roomID, principalID)
	return optional(&marker, err)
}

func (r *readMarkerRepo) Advance(ctx context.Context, roomID, principalID string, upTo int64) (*model.ReadMarker, bool, error) {
	var marker model.ReadMarker
	err := r.db.GetContext(ctx, &marker, `
		INSERT INTO read_markers (room_id, principal_id, last_read_sequence, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (room_id, principal_id) DO UPDATE SET
			last_read_sequence = EXCLUDED.last_read_sequence,
			updated_at = EXCLUDED.updated_at
		WHERE read_markers.last_read_sequence < EXCLUDED.last_read_sequence
		RETURNING *
	`, roomID, principalID, upTo)
	if err == nil {
		return &marker, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("advance read marker: %w", err)
	}

	// Conflict without update: the stored marker is already at or past upTo.
	current, err := r.Find(ctx, roomID, principalID)
	if err != nil {
		return nil, false, fmt.Errorf("find read marker: %w", err)
	}
	return current, false, nil
}
