package room

import (
	"sync"
	"time"

	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// Room is the live subscriber set of one chat or tracking room.
type Room struct {
	Key          model.RoomKey
	Participants model.Participants

	// sendMu orders persist, sequence and broadcast for chat, and publish
	// for tracking. Join snapshots are taken under it too.
	sendMu sync.Mutex

	mu         sync.RWMutex
	sessions   map[*session.Session]struct{}
	lastActive time.Time
	evicted    bool

	latest     *model.LocationSample
	stale      bool
	publishers map[*session.Session]struct{}
}

func newRoom(key model.RoomKey, participants model.Participants, now time.Time) *Room {
	return &Room{
		Key:          key,
		Participants: participants,
		sessions:     make(map[*session.Session]struct{}),
		publishers:   make(map[*session.Session]struct{}),
		lastActive:   now,
	}
}

// Exclusive runs fn holding the room's send lock.
func (r *Room) Exclusive(fn func() error) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()
	return fn()
}

func (r *Room) add(s *session.Session, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return false
	}
	r.sessions[s] = struct{}{}
	r.lastActive = now
	return true
}

// remove drops s as subscriber and publisher. lastPublisher reports that s
// was the only remaining publisher of the feed.
func (r *Room) remove(s *session.Session, now time.Time) (removed, lastPublisher bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s]; ok {
		delete(r.sessions, s)
		removed = true
	}
	if _, ok := r.publishers[s]; ok {
		delete(r.publishers, s)
		lastPublisher = len(r.publishers) == 0
	}
	r.lastActive = now
	return removed, lastPublisher
}

func (r *Room) Has(s *session.Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[s]
	return ok
}

func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Room) Members() []*session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*session.Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast delivers f to every member except exclude and returns how many
// sessions accepted it. Delivery happens outside the member lock.
func (r *Room) Broadcast(f model.Frame, exclude *session.Session) int {
	delivered := 0
	for _, s := range r.Members() {
		if s == exclude {
			continue
		}
		if s.Deliver(f) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToPrincipal delivers f to the member sessions of one principal.
func (r *Room) BroadcastToPrincipal(f model.Frame, principalID string) int {
	delivered := 0
	for _, s := range r.Members() {
		if s.PrincipalID() != principalID {
			continue
		}
		if s.Deliver(f) {
			delivered++
		}
	}
	return delivered
}

// SetLocation overwrites the feed's single sample and clears staleness.
func (r *Room) SetLocation(sample model.LocationSample, publisher *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = &sample
	r.stale = false
	if publisher != nil {
		r.publishers[publisher] = struct{}{}
	}
}

// SeedLocation installs a sample recovered from the location store unless
// a live one is already present.
func (r *Room) SeedLocation(sample model.LocationSample, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest != nil {
		return
	}
	r.latest = &sample
	r.stale = stale
}

func (r *Room) Location() (*model.LocationSample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return nil, false
	}
	sample := *r.latest
	return &sample, r.stale
}

// MarkStale flags the current sample stale. It returns the sample when the
// flag changed.
func (r *Room) MarkStale() (*model.LocationSample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.latest == nil || r.stale {
		return nil, false
	}
	r.stale = true
	sample := *r.latest
	return &sample, true
}

func (r *Room) touch(now time.Time) {
	r.mu.Lock()
	r.lastActive = now
	r.mu.Unlock()
}
