package service

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/notify"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/session"
)

type ReceiptService struct {
	registry *room.Registry
	messages repository.MessageStore
	markers  repository.ReadMarkerStore
	unread   repository.UnreadCounter
	notifier *notify.Notifier
}

func NewReceiptService(
	registry *room.Registry,
	messages repository.MessageStore,
	markers repository.ReadMarkerStore,
	unread repository.UnreadCounter,
	notifier *notify.Notifier,
) *ReceiptService {
	return &ReceiptService{
		registry: registry,
		messages: messages,
		markers:  markers,
		unread:   unread,
		notifier: notifier,
	}
}

// MarkRead moves the reader's marker forward to upToSequence. Values above
// the highest persisted sequence fail with INVALID_SEQUENCE and leave the
// marker untouched; values at or below the marker are a no-op.
func (s *ReceiptService) MarkRead(ctx context.Context, sess *session.Session, req model.ReadRequest) (*model.ReadResult, error) {
	if err := validateOrderID(req.OrderID); err != nil {
		return nil, err
	}
	if req.UpToSequence < 0 {
		return nil, apperrors.InvalidInput("upToSequence", "must not be negative")
	}

	key := model.ChatRoom(req.OrderID)
	r, err := joinedRoom(s.registry, sess, key)
	if err != nil {
		return nil, err
	}

	reader := sess.PrincipalID()
	roomID := key.String()
	result := &model.ReadResult{OrderID: req.OrderID}
	var receipt *model.ReadMarker

	err = r.Exclusive(func() error {
		highest, err := s.messages.HighestSequence(ctx, roomID)
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}
		if req.UpToSequence > highest {
			return apperrors.InvalidSequence(req.UpToSequence, highest)
		}

		var marker *model.ReadMarker
		if req.UpToSequence == 0 {
			marker, err = s.markers.Find(ctx, roomID, reader)
		} else {
			var advanced bool
			marker, advanced, err = s.markers.Advance(ctx, roomID, reader, req.UpToSequence)
			if advanced {
				receipt = marker
			}
		}
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}

		if marker != nil {
			result.LastReadSequence = marker.LastReadSequence
		}
		result.Unread = max(0, highest-result.LastReadSequence)

		if err := s.unread.Set(ctx, reader, req.OrderID, result.Unread); err != nil {
			log.Warn().Err(err).Str("principalId", reader).Str("orderId", req.OrderID).Msg("failed to reset unread")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if receipt != nil {
		s.broadcastReceipt(r, reader, req.OrderID, receipt)
	}
	s.notifier.UnreadChanged(reader, req.OrderID, result.Unread)

	return result, nil
}

func (s *ReceiptService) broadcastReceipt(r *room.Room, reader, orderID string, marker *model.ReadMarker) {
	other := r.Participants.Other(reader)
	if other == "" {
		return
	}

	frame, err := encodeEvent(model.EventReadReceipt, model.ReadReceipt{
		OrderID:          orderID,
		PrincipalID:      reader,
		LastReadSequence: marker.LastReadSequence,
		ReadAt:           marker.UpdatedAt,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode read receipt")
		return
	}
	n := r.BroadcastToPrincipal(frame, other)

	log.Debug().
		Str("orderId", orderID).
		Str("principalId", reader).
		Int64("sequence", marker.LastReadSequence).
		Int("delivered", n).
		Msg("read receipt sent")
}

// Unread returns the caller's unread counts keyed by order id.
func (s *ReceiptService) Unread(ctx context.Context, principalID string) (map[string]int64, error) {
	counts, err := s.unread.All(ctx, principalID)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	return counts, nil
}
