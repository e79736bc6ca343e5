package client_test

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlink/realtime-server-go/internal/auth"
	"github.com/orderlink/realtime-server-go/internal/directory"
	"github.com/orderlink/realtime-server-go/internal/handler"
	"github.com/orderlink/realtime-server-go/internal/middleware"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/notify"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/service"
	"github.com/orderlink/realtime-server-go/internal/session"
	"github.com/orderlink/realtime-server-go/pkg/client"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	orderID    = "order-7"
	requester  = "user-a"
	agent      = "agent-b"
)

type server struct {
	url   string
	authn *auth.Authenticator
}

// newServer runs the websocket and history routes with a snapshot page of
// two messages so reconnecting clients have to backfill.
func newServer(t *testing.T) *server {
	t.Helper()

	dir := directory.NewStaticDirectory(map[string]model.Participants{
		orderID: {RequesterID: requester, AgentID: agent},
	})
	registry := room.NewRegistry(dir)
	messages := repository.NewMemoryMessageStore()
	markers := repository.NewMemoryReadMarkerStore()
	unread := repository.NewMemoryUnreadCounter()
	locations := repository.NewMemoryLocationStore()
	notifier := notify.NewNotifier(notify.Noop{}, time.Second)

	typing := service.NewTypingService(registry, 3*time.Second)
	rooms := service.NewRoomService(registry, messages, markers, locations, typing, 2, time.Minute)
	svc := handler.Services{
		Sessions: service.NewSessionService(session.NewManager(), registry, rooms, typing, 64),
		Rooms:    rooms,
		Messages: service.NewMessageService(registry, messages, unread, notifier, 2, 100),
		Typing:   typing,
		Receipts: service.NewReceiptService(registry, messages, markers, unread, notifier),
		Location: service.NewLocationService(registry, dir, locations),
	}

	authn := auth.NewAuthenticator(testSecret, "")
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(authn).Handler)
		r.Get("/ws", handler.NewGateway(svc, handler.GatewayOptions{}).ServeHTTP)
		r.Mount("/", handler.NewHistoryHandler(svc.Messages, svc.Receipts).Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		svc.Sessions.Shutdown()
		srv.Close()
	})
	return &server{url: srv.URL, authn: authn}
}

func (s *server) tokens(t *testing.T, id string, role model.Role) client.TokenSource {
	t.Helper()
	token, err := s.authn.Issue(id, role, time.Hour)
	require.NoError(t, err)
	return func(context.Context) (string, error) { return token, nil }
}

type recorder struct {
	mu   sync.Mutex
	seqs []int64
}

func (r *recorder) onMessage(m model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, m.Sequence)
}

func (r *recorder) sequences() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seqs...)
}

// start runs c until the test ends.
func start(t *testing.T, c *client.Client) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectBackfillsMissedMessages(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	// The second connection attempt of a waits for the gate.
	gate := make(chan struct{})
	var attempts int
	var attemptsMu sync.Mutex
	aToken := srv.tokens(t, requester, model.RoleRequester)
	gated := func(ctx context.Context) (string, error) {
		attemptsMu.Lock()
		attempts++
		n := attempts
		attemptsMu.Unlock()
		if n == 2 {
			select {
			case <-gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return aToken(ctx)
	}

	var got recorder
	a := client.New(client.Options{
		BaseURL:  srv.url,
		Token:    gated,
		Handlers: client.Handlers{Message: got.onMessage},
		PageSize: 2,
	})
	start(t, a)

	b := client.New(client.Options{BaseURL: srv.url, Token: srv.tokens(t, agent, model.RoleAgent)})
	start(t, b)

	require.NoError(t, a.Join(ctx, model.RoomKindChat, orderID))
	require.NoError(t, b.Join(ctx, model.RoomKindChat, orderID))

	_, err := b.Send(ctx, orderID, "first")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.sequences()) == 1 }, 2*time.Second, 10*time.Millisecond)

	a.Drop()
	require.Eventually(t, func() bool { return !a.Connected() }, 2*time.Second, 10*time.Millisecond)

	for i := 0; i < 6; i++ {
		_, err := b.Send(ctx, orderID, fmt.Sprintf("while away %d", i))
		require.NoError(t, err)
	}

	close(gate)
	require.Eventually(t, func() bool { return len(got.sequences()) >= 7 }, 3*time.Second, 10*time.Millisecond)

	// Live traffic after the rejoin continues the sequence.
	_, err = b.Send(ctx, orderID, "back again")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(got.sequences()) == 8 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, got.sequences())
	assert.Equal(t, int64(8), a.LastSequence(orderID))
}

func TestFirstJoinStartsFromSnapshot(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	b := client.New(client.Options{BaseURL: srv.url, Token: srv.tokens(t, agent, model.RoleAgent)})
	start(t, b)
	require.NoError(t, b.Join(ctx, model.RoomKindChat, orderID))
	for i := 0; i < 5; i++ {
		_, err := b.Send(ctx, orderID, fmt.Sprintf("m%d", i))
		require.NoError(t, err)
	}

	var got recorder
	a := client.New(client.Options{
		BaseURL:  srv.url,
		Token:    srv.tokens(t, requester, model.RoleRequester),
		Handlers: client.Handlers{Message: got.onMessage},
	})
	start(t, a)
	require.NoError(t, a.Join(ctx, model.RoomKindChat, orderID))

	assert.Equal(t, []int64{4, 5}, got.sequences())

	older, err := a.Backfill(ctx, orderID, 0, 4)
	require.NoError(t, err)
	seqs := make([]int64, 0, len(older))
	for _, m := range older {
		seqs = append(seqs, m.Sequence)
	}
	assert.Equal(t, []int64{1, 2, 3}, seqs)
}

func TestSendAckIsDelivered(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	var got recorder
	a := client.New(client.Options{
		BaseURL:  srv.url,
		Token:    srv.tokens(t, requester, model.RoleRequester),
		Handlers: client.Handlers{Message: got.onMessage},
	})
	start(t, a)
	require.NoError(t, a.Join(ctx, model.RoomKindChat, orderID))

	msg, err := a.Send(ctx, orderID, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Sequence)
	assert.Equal(t, requester, msg.SenderID)
	assert.Equal(t, []int64{1}, got.sequences())

	require.NoError(t, a.Ping(ctx))
}

func TestServerErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	a := client.New(client.Options{BaseURL: srv.url, Token: srv.tokens(t, requester, model.RoleRequester)})
	start(t, a)

	_, err := a.Send(ctx, orderID, "not joined")
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, "NOT_A_MEMBER", serverErr.Code)

	err = a.Join(ctx, model.RoomKindChat, "order-unknown")
	require.ErrorAs(t, err, &serverErr)
}

func TestUnauthorizedStopsRun(t *testing.T) {
	srv := newServer(t)

	c := client.New(client.Options{
		BaseURL: srv.url,
		Token:   func(context.Context) (string, error) { return "garbage", nil },
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	assert.True(t, errors.Is(err, client.ErrUnauthorized), "got %v", err)
}

func TestCallsFailWhileDisconnected(t *testing.T) {
	c := client.New(client.Options{BaseURL: "http://127.0.0.1:1"})
	err := c.Join(context.Background(), model.RoomKindChat, orderID)
	assert.ErrorIs(t, err, client.ErrDisconnected)
	assert.False(t, c.Connected())
}
