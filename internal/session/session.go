// Package session holds per-connection state: identity, joined rooms, the
// outbound queue drained by the transport writer and the dispatch table
// for client ops.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/model"
)

// CloseReason maps onto a websocket close frame.
type CloseReason struct {
	Code int
	Text string
}

var (
	ReasonClientClosed   = CloseReason{Code: 1000, Text: "client closed"}
	ReasonShutdown       = CloseReason{Code: 1001, Text: "server shutting down"}
	ReasonProtocolError  = CloseReason{Code: 1002, Text: "protocol error"}
	ReasonSessionExpired = CloseReason{Code: 4001, Text: "session expired"}
	ReasonSlowConsumer   = CloseReason{Code: 4008, Text: "slow consumer"}
)

type Session struct {
	ID          string
	Principal   model.Principal
	ConnectedAt time.Time
	// ReadOnly sessions (SSE) can subscribe but never publish.
	ReadOnly bool

	out       chan model.Frame
	done      chan struct{}
	closeOnce sync.Once
	reason    CloseReason

	mu        sync.Mutex
	rooms     map[model.RoomKey]struct{}
	published map[model.RoomKey]struct{}
	handlers  map[model.Op]HandlerFunc
}

func New(principal model.Principal, buffer int) *Session {
	if buffer <= 0 {
		buffer = 1
	}
	return &Session{
		ID:          uuid.NewString(),
		Principal:   principal,
		ConnectedAt: time.Now().UTC(),
		out:         make(chan model.Frame, buffer),
		done:        make(chan struct{}),
		rooms:       make(map[model.RoomKey]struct{}),
		published:   make(map[model.RoomKey]struct{}),
		handlers:    make(map[model.Op]HandlerFunc),
	}
}

func (s *Session) PrincipalID() string {
	return s.Principal.ID
}

// Outbound is drained by exactly one writer goroutine.
func (s *Session) Outbound() <-chan model.Frame {
	return s.out
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Deliver enqueues f without blocking. A lossy frame is dropped when the
// queue is full; a lossless one closes the session as a slow consumer so
// the client reconnects and backfills instead of missing it silently.
func (s *Session) Deliver(f model.Frame) bool {
	if s.Closed() {
		return false
	}

	select {
	case s.out <- f:
		return true
	default:
	}

	if f.Lossy() {
		log.Debug().
			Str("sessionId", s.ID).
			Str("type", string(f.Type)).
			Msg("outbound queue full, dropping lossy event")
		return false
	}

	log.Warn().
		Str("sessionId", s.ID).
		Str("principalId", s.Principal.ID).
		Str("type", string(f.Type)).
		Msg("outbound queue full, closing slow consumer")
	s.Close(ReasonSlowConsumer)
	return false
}

// Close is idempotent; the first reason wins.
func (s *Session) Close(reason CloseReason) {
	s.closeOnce.Do(func() {
		s.reason = reason
		close(s.done)
	})
}

// CloseReason is valid once Done is closed.
func (s *Session) CloseReason() CloseReason {
	<-s.done
	return s.reason
}

// Join records membership and reports whether it is new.
func (s *Session) Join(key model.RoomKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[key]; ok {
		return false
	}
	s.rooms[key] = struct{}{}
	return true
}

func (s *Session) Leave(key model.RoomKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[key]; !ok {
		return false
	}
	delete(s.rooms, key)
	return true
}

func (s *Session) Joined(key model.RoomKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[key]
	return ok
}

func (s *Session) Rooms() []model.RoomKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]model.RoomKey, 0, len(s.rooms))
	for k := range s.rooms {
		keys = append(keys, k)
	}
	return keys
}

// MarkPublished records that the session has published to a tracking room,
// joined or not, so disconnect can find every feed it fed.
func (s *Session) MarkPublished(key model.RoomKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.published[key] = struct{}{}
}

// Touched returns every room the session joined or published to.
func (s *Session) Touched() []model.RoomKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]model.RoomKey, 0, len(s.rooms)+len(s.published))
	for k := range s.rooms {
		keys = append(keys, k)
	}
	for k := range s.published {
		if _, joined := s.rooms[k]; !joined {
			keys = append(keys, k)
		}
	}
	return keys
}
