// Package room is the room registry: it maps chat and tracking rooms to
// their live sessions and fans events out to them.
package room

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/orderlink/realtime-server-go/internal/directory"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/session"
)

const maxJoinAttempts = 3

// StaleFeed is a tracking room whose feed just became stale.
type StaleFeed struct {
	Room   *Room
	Sample model.LocationSample
}

type Registry struct {
	dir   directory.Directory
	group singleflight.Group
	now   func() time.Time

	mu    sync.RWMutex
	rooms map[model.RoomKey]*Room
	// known caches participant pairs per order while any room of the order
	// is alive.
	known map[string]model.Participants
}

func NewRegistry(dir directory.Directory) *Registry {
	return &Registry{
		dir:   dir,
		now:   time.Now,
		rooms: make(map[model.RoomKey]*Room),
		known: make(map[string]model.Participants),
	}
}

func (r *Registry) Get(key model.RoomKey) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[key]
}

// Resolve returns the live room for key, creating it on first use. The
// participant pair is resolved once per order and shared with the sibling
// room of the other kind while either is alive.
func (r *Registry) Resolve(ctx context.Context, key model.RoomKey) (*Room, error) {
	if room := r.Get(key); room != nil {
		return room, nil
	}

	participants, err := r.participants(ctx, key.OrderID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[key]; ok {
		return room, nil
	}
	room := newRoom(key, participants, r.now())
	r.rooms[key] = room

	log.Debug().
		Str("room", key.String()).
		Msg("room created")

	return room, nil
}

func (r *Registry) participants(ctx context.Context, orderID string) (model.Participants, error) {
	if p, ok := r.cached(orderID); ok {
		return p, nil
	}

	v, err, _ := r.group.Do(orderID, func() (any, error) {
		if p, ok := r.cached(orderID); ok {
			return p, nil
		}
		p, err := r.dir.ResolveRoomParticipants(ctx, orderID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.known[orderID] = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return model.Participants{}, err
	}
	return v.(model.Participants), nil
}

func (r *Registry) cached(orderID string) (model.Participants, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.known[orderID]
	return p, ok
}

// Authorize resolves the room and checks that principalID is one of its
// two participants.
func (r *Registry) Authorize(ctx context.Context, principalID string, key model.RoomKey) (*Room, error) {
	room, err := r.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	if !room.Participants.Includes(principalID) {
		return nil, apperrors.Forbidden(fmt.Sprintf("Not a participant of order %s", key.OrderID))
	}
	return room, nil
}

// Join authorizes s and adds it to the room. snapshot runs under the room's
// send lock and its frame is queued to s as the session becomes a member,
// so each broadcast made under that lock is either in the snapshot or
// delivered live after it.
func (r *Registry) Join(ctx context.Context, s *session.Session, key model.RoomKey, snapshot func(*Room) (model.Frame, error)) (*Room, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, err := r.Authorize(ctx, s.PrincipalID(), key)
		if err != nil {
			return nil, err
		}

		added := false
		err = room.Exclusive(func() error {
			var frame model.Frame
			if snapshot != nil {
				f, err := snapshot(room)
				if err != nil {
					return err
				}
				frame = f
			}
			if added = room.add(s, r.now()); added && frame.Type != "" {
				s.Deliver(frame)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if !added {
			// Evicted between resolve and add; resolve a fresh room.
			continue
		}

		s.Join(key)
		log.Info().
			Str("sessionId", s.ID).
			Str("principalId", s.PrincipalID()).
			Str("room", key.String()).
			Int("members", room.Size()).
			Msg("session joined room")
		return room, nil
	}
	return nil, apperrors.Internal("Room was evicted repeatedly during join")
}

// Leave is idempotent. It returns a stale feed when s was the last
// publisher of a tracking room.
func (r *Registry) Leave(s *session.Session, key model.RoomKey) (*StaleFeed, bool) {
	s.Leave(key)
	room := r.Get(key)
	if room == nil {
		return nil, false
	}

	removed, lastPublisher := room.remove(s, r.now())
	if removed {
		log.Info().
			Str("sessionId", s.ID).
			Str("room", key.String()).
			Int("members", room.Size()).
			Msg("session left room")
	}
	return staleIfLast(room, lastPublisher)
}

// RemoveSession removes s from every room it joined or published to.
func (r *Registry) RemoveSession(s *session.Session) []StaleFeed {
	var stale []StaleFeed
	for _, key := range s.Touched() {
		s.Leave(key)
		room := r.Get(key)
		if room == nil {
			continue
		}
		_, lastPublisher := room.remove(s, r.now())
		if feed, ok := staleIfLast(room, lastPublisher); ok {
			stale = append(stale, *feed)
		}
	}
	return stale
}

func staleIfLast(room *Room, lastPublisher bool) (*StaleFeed, bool) {
	if !lastPublisher || room.Key.Kind != model.RoomKindTracking {
		return nil, false
	}
	sample, changed := room.MarkStale()
	if !changed {
		return nil, false
	}
	return &StaleFeed{Room: room, Sample: *sample}, true
}

// Broadcast fans f out to the live members of key. A room without live
// members is a no-op.
func (r *Registry) Broadcast(key model.RoomKey, f model.Frame, exclude *session.Session) int {
	room := r.Get(key)
	if room == nil {
		return 0
	}
	return room.Broadcast(f, exclude)
}

// MarkStaleOlderThan flags tracking feeds whose newest sample was observed
// before cutoff.
func (r *Registry) MarkStaleOlderThan(cutoff time.Time) []StaleFeed {
	var stale []StaleFeed
	for _, room := range r.snapshot() {
		if room.Key.Kind != model.RoomKindTracking {
			continue
		}
		sample, isStale := room.Location()
		if sample == nil || isStale || !sample.ObservedAt.Before(cutoff) {
			continue
		}
		if marked, ok := room.MarkStale(); ok {
			stale = append(stale, StaleFeed{Room: room, Sample: *marked})
		}
	}
	return stale
}

// EvictIdle drops rooms that have had no members or publishers for at
// least idleFor.
func (r *Registry) EvictIdle(idleFor time.Duration) int {
	cutoff := r.now().Add(-idleFor)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for key, room := range r.rooms {
		room.mu.Lock()
		if len(room.sessions) == 0 && len(room.publishers) == 0 && room.lastActive.Before(cutoff) {
			room.evicted = true
			delete(r.rooms, key)
			evicted++
		}
		room.mu.Unlock()
	}

	for orderID := range r.known {
		_, chat := r.rooms[model.ChatRoom(orderID)]
		_, tracking := r.rooms[model.TrackingRoom(orderID)]
		if !chat && !tracking {
			delete(r.known, orderID)
		}
	}

	if evicted > 0 {
		log.Info().Int("evicted", evicted).Int("remaining", len(r.rooms)).Msg("evicted idle rooms")
	}
	return evicted
}

func (r *Registry) snapshot() []*Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	return out
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Touch refreshes a room's idle clock, e.g. after a publish with no members.
func (r *Registry) Touch(key model.RoomKey) {
	if room := r.Get(key); room != nil {
		room.touch(r.now())
	}
}
