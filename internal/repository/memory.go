package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orderlink/realtime-server-go/internal/model"
)

// MemoryMessageStore is an in-process MessageStore for development and
// tests. History is lost on restart.
type MemoryMessageStore struct {
	mu    sync.RWMutex
	rooms map[string][]model.Message
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{rooms: make(map[string][]model.Message)}
}

func (s *MemoryMessageStore) Append(_ context.Context, params model.AppendMessageParams) (*model.Message, error) {
	attachments := params.Attachments
	if attachments == nil {
		attachments = model.Attachments{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.rooms[params.RoomID]
	msg := model.Message{
		ID:          uuid.NewString(),
		RoomID:      params.RoomID,
		OrderID:     params.OrderID,
		SenderID:    params.SenderID,
		Sequence:    int64(len(msgs)) + 1,
		Content:     params.Content,
		Attachments: attachments,
		CreatedAt:   time.Now().UTC(),
	}
	s.rooms[params.RoomID] = append(msgs, msg)
	return &msg, nil
}

func (s *MemoryMessageStore) Page(_ context.Context, roomID string, before *int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.rooms[roomID]
	// Sequence n lives at index n-1.
	end := len(msgs)
	if before != nil && *before-1 < int64(end) {
		end = int(max(*before-1, 0))
	}

	page := make([]model.Message, 0, min(limit, end))
	for i := end - 1; i >= 0 && len(page) < limit; i-- {
		page = append(page, msgs[i])
	}
	return page, nil
}

func (s *MemoryMessageStore) HighestSequence(_ context.Context, roomID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.rooms[roomID])), nil
}

type markerKey struct {
	roomID      string
	principalID string
}

type MemoryReadMarkerStore struct {
	mu      sync.Mutex
	markers map[markerKey]model.ReadMarker
}

func NewMemoryReadMarkerStore() *MemoryReadMarkerStore {
	return &MemoryReadMarkerStore{markers: make(map[markerKey]model.ReadMarker)}
}

func (s *MemoryReadMarkerStore) Find(_ context.Context, roomID, principalID string) (*model.ReadMarker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markers[markerKey{roomID, principalID}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *MemoryReadMarkerStore) Advance(_ context.Context, roomID, principalID string, upTo int64) (*model.ReadMarker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := markerKey{roomID, principalID}
	current, ok := s.markers[key]
	if ok && current.LastReadSequence >= upTo {
		return &current, false, nil
	}

	next := model.ReadMarker{
		RoomID:           roomID,
		PrincipalID:      principalID,
		LastReadSequence: upTo,
		UpdatedAt:        time.Now().UTC(),
	}
	s.markers[key] = next
	return &next, true, nil
}

type MemoryUnreadCounter struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

func NewMemoryUnreadCounter() *MemoryUnreadCounter {
	return &MemoryUnreadCounter{counts: make(map[string]map[string]int64)}
}

func (c *MemoryUnreadCounter) Increment(_ context.Context, principalID, orderID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[principalID] == nil {
		c.counts[principalID] = make(map[string]int64)
	}
	c.counts[principalID][orderID]++
	return c.counts[principalID][orderID], nil
}

func (c *MemoryUnreadCounter) Set(_ context.Context, principalID, orderID string, count int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[principalID] == nil {
		c.counts[principalID] = make(map[string]int64)
	}
	c.counts[principalID][orderID] = count
	return nil
}

func (c *MemoryUnreadCounter) All(_ context.Context, principalID string) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int64, len(c.counts[principalID]))
	for k, v := range c.counts[principalID] {
		out[k] = v
	}
	return out, nil
}

type MemoryLocationStore struct {
	mu      sync.RWMutex
	samples map[string]model.LocationSample
}

func NewMemoryLocationStore() *MemoryLocationStore {
	return &MemoryLocationStore{samples: make(map[string]model.LocationSample)}
}

func (s *MemoryLocationStore) Save(_ context.Context, sample model.LocationSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[sample.OrderID] = sample
	return nil
}

func (s *MemoryLocationStore) Find(_ context.Context, orderID string) (*model.LocationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, ok := s.samples[orderID]
	if !ok {
		return nil, nil
	}
	return &sample, nil
}
