package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/orderlink/realtime-server-go/internal/directory"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/notify"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/session"
)

const (
	orderID   = "order-42"
	requester = "user-a"
	agent     = "agent-b"
)

// fakeTimers captures AfterFunc callbacks so tests fire them by hand.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	fn      func()
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (f *fakeTimers) AfterFunc(_ time.Duration, fn func()) Stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// fireAll runs every pending timer as if its deadline had passed.
func (f *fakeTimers) fireAll() {
	f.mu.Lock()
	pending := append([]*fakeTimer(nil), f.timers...)
	f.mu.Unlock()
	for _, t := range pending {
		t.fn()
	}
}

func (f *fakeTimers) all() []*fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTimer(nil), f.timers...)
}

type mockMessageStore struct {
	mock.Mock
}

func (m *mockMessageStore) Append(ctx context.Context, params model.AppendMessageParams) (*model.Message, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Message), args.Error(1)
}

func (m *mockMessageStore) Page(ctx context.Context, roomID string, before *int64, limit int) ([]model.Message, error) {
	args := m.Called(ctx, roomID, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockMessageStore) HighestSequence(ctx context.Context, roomID string) (int64, error) {
	args := m.Called(ctx, roomID)
	return args.Get(0).(int64), args.Error(1)
}

type fixture struct {
	registry  *room.Registry
	store     repository.MessageStore
	markers   *repository.MemoryReadMarkerStore
	unread    *repository.MemoryUnreadCounter
	locations *repository.MemoryLocationStore
	timers    *fakeTimers

	rooms    *RoomService
	messages *MessageService
	typing   *TypingService
	receipts *ReceiptService
	location *LocationService
	sessions *SessionService
}

func newFixture(t *testing.T, store repository.MessageStore) *fixture {
	t.Helper()

	if store == nil {
		store = repository.NewMemoryMessageStore()
	}
	dir := directory.NewStaticDirectory(map[string]model.Participants{
		orderID: {RequesterID: requester, AgentID: agent},
	})

	f := &fixture{
		registry:  room.NewRegistry(dir),
		store:     store,
		markers:   repository.NewMemoryReadMarkerStore(),
		unread:    repository.NewMemoryUnreadCounter(),
		locations: repository.NewMemoryLocationStore(),
		timers:    &fakeTimers{},
	}
	notifier := notify.NewNotifier(notify.Noop{}, time.Second)

	f.typing = NewTypingService(f.registry, 3*time.Second)
	f.typing.afterFunc = f.timers.AfterFunc
	f.rooms = NewRoomService(f.registry, store, f.markers, f.locations, f.typing, 50, time.Minute)
	f.messages = NewMessageService(f.registry, store, f.unread, notifier, 50, 100)
	f.receipts = NewReceiptService(f.registry, store, f.markers, f.unread, notifier)
	f.location = NewLocationService(f.registry, dir, f.locations)
	f.sessions = NewSessionService(session.NewManager(), f.registry, f.rooms, f.typing, 64)
	return f
}

func (f *fixture) connect(principalID string, role model.Role) *session.Session {
	return f.sessions.Connect(context.Background(), model.Principal{
		ID:        principalID,
		Role:      role,
		ExpiresAt: time.Now().Add(time.Hour),
	}, false)
}

func (f *fixture) join(t *testing.T, s *session.Session, kind model.RoomKind) *model.RoomSnapshot {
	t.Helper()
	snap, err := f.rooms.Join(context.Background(), s, model.RoomRequest{Kind: kind, OrderID: orderID})
	require.NoError(t, err)
	drain(s)
	return snap
}

func drain(s *session.Session) []model.Frame {
	var out []model.Frame
	for {
		select {
		case f := <-s.Outbound():
			out = append(out, f)
		default:
			return out
		}
	}
}

func ofType(frames []model.Frame, t model.FrameType) []model.Frame {
	var out []model.Frame
	for _, f := range frames {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}

func decode[T any](t *testing.T, f model.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}
