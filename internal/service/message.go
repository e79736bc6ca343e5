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

// MessageService is the chat pipeline: persist and sequence, then fan out,
// then count unread for the recipient.
type MessageService struct {
	registry    *room.Registry
	store       repository.MessageStore
	unread      repository.UnreadCounter
	notifier    *notify.Notifier
	pageSize    int
	maxPageSize int
}

func NewMessageService(
	registry *room.Registry,
	store repository.MessageStore,
	unread repository.UnreadCounter,
	notifier *notify.Notifier,
	pageSize, maxPageSize int,
) *MessageService {
	return &MessageService{
		registry:    registry,
		store:       store,
		unread:      unread,
		notifier:    notifier,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
	}
}

// joinedRoom returns the live room of key if sess has joined it.
func joinedRoom(registry *room.Registry, sess *session.Session, key model.RoomKey) (*room.Room, error) {
	if !sess.Joined(key) {
		return nil, apperrors.NotAMember(key.String())
	}
	r := registry.Get(key)
	if r == nil || !r.Has(sess) {
		return nil, apperrors.NotAMember(key.String())
	}
	return r, nil
}

// Send persists a message and broadcasts it to every other session in the
// room, including the sender's other devices. Nothing is broadcast when the
// store fails.
func (s *MessageService) Send(ctx context.Context, sess *session.Session, req model.SendRequest) (*model.Message, error) {
	if err := validateMessage(req); err != nil {
		return nil, err
	}

	key := model.ChatRoom(req.OrderID)
	r, err := joinedRoom(s.registry, sess, key)
	if err != nil {
		return nil, err
	}

	var msg *model.Message
	recipient := r.Participants.Other(sess.PrincipalID())
	var unread int64 = -1

	err = r.Exclusive(func() error {
		m, err := s.store.Append(ctx, model.AppendMessageParams{
			RoomID:      key.String(),
			OrderID:     req.OrderID,
			SenderID:    sess.PrincipalID(),
			Content:     req.Content,
			Attachments: req.Attachments,
		})
		if err != nil {
			return apperrors.StoreUnavailable(err)
		}
		msg = m

		frame, err := encodeEvent(model.EventNewMessage, m)
		if err != nil {
			return err
		}
		r.Broadcast(frame, sess)

		// Counted under the send lock so markRead never observes a sequence
		// without its increment.
		n, err := s.unread.Increment(ctx, recipient, req.OrderID)
		if err != nil {
			log.Warn().Err(err).Str("principalId", recipient).Str("orderId", req.OrderID).Msg("failed to increment unread")
			return nil
		}
		unread = n
		return nil
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeStoreUnavailable) {
			log.Error().Err(err).Str("orderId", req.OrderID).Str("sessionId", sess.ID).Msg("message store unavailable, send aborted")
		}
		return nil, err
	}

	if unread >= 0 {
		s.notifier.UnreadChanged(recipient, req.OrderID, unread)
	}

	log.Info().
		Str("messageId", msg.ID).
		Str("orderId", req.OrderID).
		Str("senderId", msg.SenderID).
		Int64("sequence", msg.Sequence).
		Msg("message sent")

	return msg, nil
}

// Page returns history strictly older than before, newest first. The
// caller must be one of the order's participants.
func (s *MessageService) Page(ctx context.Context, principalID, orderID string, before *int64, limit int) (*model.HistoryPage, error) {
	if err := validateOrderID(orderID); err != nil {
		return nil, err
	}
	if before != nil && *before < 1 {
		return nil, apperrors.InvalidInput("before", "must be a positive sequence")
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	if limit > s.maxPageSize {
		limit = s.maxPageSize
	}

	key := model.ChatRoom(orderID)
	if _, err := s.registry.Authorize(ctx, principalID, key); err != nil {
		return nil, err
	}

	msgs, err := s.store.Page(ctx, key.String(), before, limit+1)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	page := &model.HistoryPage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
	}
	return page, nil
}
