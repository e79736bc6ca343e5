package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/audit"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// RoomService handles join and leave, builds join snapshots and announces
// stale location feeds.
type RoomService struct {
	registry   *room.Registry
	messages   repository.MessageStore
	markers    repository.ReadMarkerStore
	locations  repository.LocationStore
	typing     *TypingService
	pageSize   int
	staleAfter time.Duration
}

func NewRoomService(
	registry *room.Registry,
	messages repository.MessageStore,
	markers repository.ReadMarkerStore,
	locations repository.LocationStore,
	typing *TypingService,
	pageSize int,
	staleAfter time.Duration,
) *RoomService {
	return &RoomService{
		registry:   registry,
		messages:   messages,
		markers:    markers,
		locations:  locations,
		typing:     typing,
		pageSize:   pageSize,
		staleAfter: staleAfter,
	}
}

// Join subscribes sess to the room and queues a room-joined-snapshot event
// ahead of any live event of that room.
func (s *RoomService) Join(ctx context.Context, sess *session.Session, req model.RoomRequest) (*model.RoomSnapshot, error) {
	if err := validateRoomKind(req.Kind); err != nil {
		return nil, err
	}
	if err := validateOrderID(req.OrderID); err != nil {
		return nil, err
	}

	key := model.RoomKey{Kind: req.Kind, OrderID: req.OrderID}
	var snapshot *model.RoomSnapshot

	_, err := s.registry.Join(ctx, sess, key, func(r *room.Room) (model.Frame, error) {
		snap, err := s.snapshot(ctx, sess, r)
		if err != nil {
			return model.Frame{}, err
		}
		snapshot = snap
		return encodeEvent(model.EventRoomJoinedSnapshot, snap)
	})
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCodeForbidden) {
			audit.Log(ctx, audit.Event{
				Type:        audit.EventForbiddenJoin,
				PrincipalID: sess.PrincipalID(),
				SessionID:   sess.ID,
				OrderID:     req.OrderID,
				Details:     map[string]interface{}{"roomKind": string(req.Kind)},
			})
		}
		return nil, err
	}

	return snapshot, nil
}

func (s *RoomService) snapshot(ctx context.Context, sess *session.Session, r *room.Room) (*model.RoomSnapshot, error) {
	snap := &model.RoomSnapshot{
		Kind:         r.Key.Kind,
		OrderID:      r.Key.OrderID,
		Participants: r.Participants,
	}

	if r.Key.Kind == model.RoomKindTracking {
		snap.Location, snap.Stale = s.location(ctx, r)
		return snap, nil
	}

	roomID := r.Key.String()
	msgs, err := s.messages.Page(ctx, roomID, nil, s.pageSize+1)
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if len(msgs) > s.pageSize {
		msgs = msgs[:s.pageSize]
		snap.HasMore = true
	}
	snap.Messages = msgs
	if len(msgs) > 0 {
		snap.HighestSequence = msgs[0].Sequence
	}

	marker, err := s.markers.Find(ctx, roomID, sess.PrincipalID())
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}
	if marker != nil {
		snap.LastReadSequence = marker.LastReadSequence
	}
	return snap, nil
}

// location returns the room's sample, falling back to the location store
// when the room has none in memory.
func (s *RoomService) location(ctx context.Context, r *room.Room) (*model.LocationSample, bool) {
	if sample, stale := r.Location(); sample != nil {
		return sample, stale
	}

	sample, err := s.locations.Find(ctx, r.Key.OrderID)
	if err != nil {
		log.Warn().Err(err).Str("orderId", r.Key.OrderID).Msg("failed to load last known location")
		return nil, false
	}
	if sample == nil {
		return nil, false
	}

	stale := time.Since(sample.ObservedAt) > s.staleAfter
	r.SeedLocation(*sample, stale)
	return r.Location()
}

// Leave is idempotent and never fails for a valid request.
func (s *RoomService) Leave(sess *session.Session, req model.RoomRequest) error {
	if err := validateRoomKind(req.Kind); err != nil {
		return err
	}
	if err := validateOrderID(req.OrderID); err != nil {
		return err
	}

	key := model.RoomKey{Kind: req.Kind, OrderID: req.OrderID}
	if key.Kind == model.RoomKindChat && s.typing != nil {
		s.typing.ClearRoom(sess, key)
	}
	if feed, ok := s.registry.Leave(sess, key); ok {
		s.BroadcastStale([]room.StaleFeed{*feed})
	}
	return nil
}

// BroadcastStale tells every member of each feed that its sample is stale.
func (s *RoomService) BroadcastStale(feeds []room.StaleFeed) {
	for _, feed := range feeds {
		frame, err := encodeEvent(model.EventLocationStale, model.LocationStale{
			OrderID:        feed.Room.Key.OrderID,
			LastObservedAt: feed.Sample.ObservedAt,
		})
		if err != nil {
			log.Error().Err(err).Msg("failed to encode location-stale event")
			continue
		}
		n := feed.Room.Broadcast(frame, nil)

		log.Info().
			Str("orderId", feed.Room.Key.OrderID).
			Time("lastObservedAt", feed.Sample.ObservedAt).
			Int("delivered", n).
			Msg("location feed marked stale")
	}
}

// ExpireStaleFeeds marks feeds stale whose newest sample is older than the
// staleness window.
func (s *RoomService) ExpireStaleFeeds(now time.Time) int {
	feeds := s.registry.MarkStaleOlderThan(now.Add(-s.staleAfter))
	s.BroadcastStale(feeds)
	return len(feeds)
}

func (s *RoomService) EvictIdle(idleFor time.Duration) int {
	return s.registry.EvictIdle(idleFor)
}
