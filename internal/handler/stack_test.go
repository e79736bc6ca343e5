package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/orderlink/realtime-server-go/internal/auth"
	"github.com/orderlink/realtime-server-go/internal/directory"
	"github.com/orderlink/realtime-server-go/internal/middleware"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/notify"
	"github.com/orderlink/realtime-server-go/internal/repository"
	"github.com/orderlink/realtime-server-go/internal/room"
	"github.com/orderlink/realtime-server-go/internal/service"
	"github.com/orderlink/realtime-server-go/internal/session"
)

const (
	testSecret = "0123456789abcdef0123456789abcdef"
	orderID    = "order-42"
	requester  = "user-a"
	agent      = "agent-b"
)

type testStack struct {
	server *httptest.Server
	authn  *auth.Authenticator
	svc    Services
}

func newTestStack(t *testing.T) *testStack {
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
	rooms := service.NewRoomService(registry, messages, markers, locations, typing, 50, time.Minute)
	svc := Services{
		Sessions: service.NewSessionService(session.NewManager(), registry, rooms, typing, 64),
		Rooms:    rooms,
		Messages: service.NewMessageService(registry, messages, unread, notifier, 50, 100),
		Typing:   typing,
		Receipts: service.NewReceiptService(registry, messages, markers, unread, notifier),
		Location: service.NewLocationService(registry, dir, locations),
	}

	authn := auth.NewAuthenticator(testSecret, "")
	authMiddleware := middleware.NewAuthMiddleware(authn)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Get("/ws", NewGateway(svc, GatewayOptions{InboundRatePerSec: 50, InboundBurst: 20}).ServeHTTP)
		r.Get("/orders/{orderId}/tracking/events", NewTrackingEventsHandler(svc.Sessions, svc.Rooms).ServeHTTP)
		r.Mount("/", NewHistoryHandler(svc.Messages, svc.Receipts).Routes())
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		svc.Sessions.Shutdown()
		srv.Close()
	})

	return &testStack{server: srv, authn: authn, svc: svc}
}

func (s *testStack) token(t *testing.T, id string, role model.Role, ttl time.Duration) string {
	t.Helper()
	token, err := s.authn.Issue(id, role, ttl)
	require.NoError(t, err)
	return token
}

func (s *testStack) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}
