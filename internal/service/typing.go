package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// Stopper is satisfied by *time.Timer.
type Stopper interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Stopper

func realAfterFunc(d time.Duration, f func()) Stopper {
	return time.AfterFunc(d, f)
}

type typingKey struct {
	room        model.RoomKey
	principalID string
}

type typingEntry struct {
	state   model.TypingState
	session *session.Session
	timer   Stopper
	gen     uint64
}

// TypingService keeps one typing state per (room, principal). A true
// state reverts to false after timeout unless refreshed; a refresh
// replaces the pending timer.
type TypingService struct {
	registry  *room.Registry
	timeout   time.Duration
	afterFunc AfterFunc

	mu      sync.Mutex
	gen     uint64
	entries map[typingKey]*typingEntry
}

func NewTypingService(registry *room.Registry, timeout time.Duration) *TypingService {
	return &TypingService{
		registry:  registry,
		timeout:   timeout,
		afterFunc: realAfterFunc,
		entries:   make(map[typingKey]*typingEntry),
	}
}

// SetTyping updates the state and tells the other participant when it
// changes. Refreshing true only extends the expiry.
func (s *TypingService) SetTyping(_ context.Context, sess *session.Session, req model.TypingRequest) error {
	if err := validateOrderID(req.OrderID); err != nil {
		return err
	}

	key := model.ChatRoom(req.OrderID)
	r, err := joinedRoom(s.registry, sess, key)
	if err != nil {
		return err
	}

	k := typingKey{room: key, principalID: sess.PrincipalID()}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.entries[k]
	wasTyping := prev != nil
	if prev != nil {
		prev.timer.Stop()
		delete(s.entries, k)
	}
	if req.IsTyping {
		s.gen++
		gen := s.gen
		s.entries[k] = &typingEntry{
			state: model.TypingState{
				RoomID:      key.String(),
				PrincipalID: sess.PrincipalID(),
				IsTyping:    true,
				ExpiresAt:   time.Now().Add(s.timeout),
			},
			session: sess,
			gen:     gen,
			timer:   s.afterFunc(s.timeout, func() { s.expire(k, gen) }),
		}
	}

	// Broadcast under mu so the order peers observe matches the order of
	// state changes. Deliver never blocks.
	if wasTyping != req.IsTyping {
		s.broadcast(r, sess.PrincipalID(), req.OrderID, req.IsTyping)
	}
	return nil
}

func (s *TypingService) expire(k typingKey, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entries[k]
	if entry == nil || entry.gen != gen {
		return
	}
	delete(s.entries, k)

	if r := s.registry.Get(k.room); r != nil {
		s.broadcast(r, k.principalID, k.room.OrderID, false)
	}
}

// ClearSession drops every typing state set by sess and broadcasts false
// for each of them immediately.
func (s *TypingService) ClearSession(sess *session.Session) {
	s.clear(func(k typingKey, e *typingEntry) bool { return e.session == sess })
}

// ClearRoom drops the typing state sess set in one room.
func (s *TypingService) ClearRoom(sess *session.Session, key model.RoomKey) {
	s.clear(func(k typingKey, e *typingEntry) bool { return e.session == sess && k.room == key })
}

func (s *TypingService) clear(match func(typingKey, *typingEntry) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.entries {
		if !match(k, e) {
			continue
		}
		e.timer.Stop()
		delete(s.entries, k)
		if r := s.registry.Get(k.room); r != nil {
			s.broadcast(r, k.principalID, k.room.OrderID, false)
		}
	}
}

// State returns the current typing state, used by tests and diagnostics.
func (s *TypingService) State(key model.RoomKey, principalID string) (model.TypingState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[typingKey{room: key, principalID: principalID}]
	if !ok {
		return model.TypingState{}, false
	}
	return e.state, true
}

func (s *TypingService) broadcast(r *room.Room, principalID, orderID string, isTyping bool) {
	other := r.Participants.Other(principalID)
	if other == "" {
		return
	}

	frame, err := encodeEvent(model.EventTypingChanged, model.TypingChanged{
		OrderID:     orderID,
		PrincipalID: principalID,
		IsTyping:    isTyping,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to encode typing event")
		return
	}
	r.BroadcastToPrincipal(frame, other)
}
