package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/orderlink/realtime-server-go/internal/database"
	"github.com/orderlink/realtime-server-go/internal/model"
)

type messageRepo struct {
	db *database.DB
}

func NewMessageRepository(db *database.DB) MessageStore {
	return &messageRepo{db: db}
}

func (r *messageRepo) Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error) {
	attachments := params.Attachments
	if attachments == nil {
		attachments = model.Attachments{}
	}

	var msg model.Message
	err := r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var seq int64
		// The row lock taken by the upsert serializes appends per room.
		if err := tx.GetContext(ctx, &seq, `
			INSERT INTO room_sequences (room_id, last_seq)
			VALUES ($1, 1)
			ON CONFLICT (room_id) DO UPDATE SET last_seq = room_sequences.last_seq + 1
			RETURNING last_seq
		`, params.RoomID); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		return tx.GetContext(ctx, &msg, `
			INSERT INTO messages
				(id, room_id, order_id, sender_id, sequence, content, attachments, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING *
		`, uuid.NewString(), params.RoomID, params.OrderID, params.SenderID, seq,
			params.Content, attachments, time.Now().UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &msg, nil
}

func (r *messageRepo) Page(ctx context.Context, roomID string, before *int64, limit int) ([]model.Message, error) {
	msgs := []model.Message{}
	var err error
	if before == nil {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT * FROM messages
			WHERE room_id = $1
			ORDER BY sequence DESC
			LIMIT $2
		`, roomID, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `
			SELECT * FROM messages
			WHERE room_id = $1 AND sequence < $2
			ORDER BY sequence DESC
			LIMIT $3
		`, roomID, *before, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("page messages: %w", err)
	}
	return msgs, nil
}

func (r *messageRepo) HighestSequence(ctx context.Context, roomID string) (int64, error) {
	var seq int64
	err := r.db.GetContext(ctx, &seq, `
		SELECT COALESCE((SELECT last_seq FROM room_sequences WHERE room_id = $1), 0)
	`, roomID)
	if err != nil {
		return 0, fmt.Errorf("highest sequence: %w", err)
	}
	return seq, nil
}
