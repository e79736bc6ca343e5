package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/audit"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// SessionService owns the lifecycle of sessions: creation after
// authentication and teardown on disconnect.
type SessionService struct {
	manager  *session.Manager
	registry *room.Registry
	rooms    *RoomService
	typing   *TypingService
	buffer   int
}

func NewSessionService(manager *session.Manager, registry *room.Registry, rooms *RoomService, typing *TypingService, buffer int) *SessionService {
	return &SessionService{
		manager:  manager,
		registry: registry,
		rooms:    rooms,
		typing:   typing,
		buffer:   buffer,
	}
}

func (s *SessionService) Connect(ctx context.Context, principal model.Principal, readOnly bool) *session.Session {
	sess := session.New(principal, s.buffer)
	sess.ReadOnly = readOnly
	s.manager.Register(sess)

	audit.Log(ctx, audit.Event{
		Type:        audit.EventSessionCreate,
		PrincipalID: principal.ID,
		SessionID:   sess.ID,
		Details:     map[string]interface{}{"readOnly": readOnly},
	})
	return sess
}

// Disconnect tears the session down: typing states are forced false, the
// session leaves every room, feeds it was the last publisher of go stale,
// and the session is closed. Safe to call more than once.
func (s *SessionService) Disconnect(ctx context.Context, sess *session.Session, reason session.CloseReason) {
	s.typing.ClearSession(sess)
	stale := s.registry.RemoveSession(sess)
	s.rooms.BroadcastStale(stale)
	s.manager.Unregister(sess)
	sess.Close(reason)

	final := sess.CloseReason()
	if final == session.ReasonSlowConsumer {
		audit.Log(ctx, audit.Event{
			Type:        audit.EventSlowConsumer,
			PrincipalID: sess.PrincipalID(),
			SessionID:   sess.ID,
		})
	}

	log.Info().
		Str("sessionId", sess.ID).
		Str("principalId", sess.PrincipalID()).
		Int("closeCode", final.Code).
		Str("closeReason", final.Text).
		Int("staleFeeds", len(stale)).
		Msg("session disconnected")
}

func (s *SessionService) Shutdown() int {
	return s.manager.CloseAll(session.ReasonShutdown)
}

func (s *SessionService) Count() int {
	return s.manager.Count()
}
