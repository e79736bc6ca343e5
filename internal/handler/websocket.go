package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/orderlink/realtime-server-go/internal/audit"
	"github.com/orderlink/realtime-server-go/internal/config"
	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/middleware"
	"github.com/orderlink/realtime-server-go/internal/model"
	"github.com/orderlink/realtime-server-go/internal/service"
	"github.com/orderlink/realtime-server-go/internal/session"
)

// Services are the operations reachable from a websocket session.
type Services struct {
	Sessions *service.SessionService
	Rooms    *service.RoomService
	Messages *service.MessageService
	Typing   *service.TypingService
	Receipts *service.ReceiptService
	Location *service.LocationService
}

type GatewayOptions struct {
	AllowedOrigins    []string
	InboundRatePerSec float64
	InboundBurst      int
}

// Gateway upgrades authenticated requests to websocket sessions. Each
// connection runs one reader and one writer goroutine.
type Gateway struct {
	svc          Services
	upgrader     websocket.Upgrader
	inboundRate  rate.Limit
	inboundBurst int
}

func NewGateway(svc Services, opts GatewayOptions) *Gateway {
	allowed := make(map[string]struct{}, len(opts.AllowedOrigins))
	for _, o := range opts.AllowedOrigins {
		allowed[o] = struct{}{}
	}

	g := &Gateway{
		svc:          svc,
		inboundRate:  rate.Limit(opts.InboundRatePerSec),
		inboundBurst: opts.InboundBurst,
	}
	if g.inboundRate <= 0 {
		g.inboundRate = rate.Inf
	}
	if g.inboundBurst <= 0 {
		g.inboundBurst = 1
	}

	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
	return g
}

// GET /v1/ws
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.GetPrincipal(r.Context())
	if !ok {
		writeError(w, apperrors.Unauthenticated("Unauthorized"))
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("principalId", principal.ID).Msg("websocket upgrade failed")
		return
	}

	ctx := r.Context()
	sess := g.svc.Sessions.Connect(ctx, principal, false)
	g.register(sess)

	c := &wsConn{
		conn:    conn,
		sess:    sess,
		limiter: rate.NewLimiter(g.inboundRate, g.inboundBurst),
	}

	log.Info().
		Str("sessionId", sess.ID).
		Str("principalId", principal.ID).
		Str("role", string(principal.Role)).
		Msg("websocket session established")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	reason := c.readLoop(ctx)
	g.svc.Sessions.Disconnect(context.WithoutCancel(ctx), sess, reason)
	<-writerDone
}

func (g *Gateway) register(sess *session.Session) {
	sess.Handle(model.OpJoin, g.join)
	sess.Handle(model.OpLeave, g.leave)
	sess.Handle(model.OpSend, g.send)
	sess.Handle(model.OpTyping, g.setTyping)
	sess.Handle(model.OpRead, g.read)
	sess.Handle(model.OpLocation, g.publishLocation)
	sess.Handle(model.OpPing, func(context.Context, *session.Session, model.ClientFrame) (any, error) {
		return nil, nil
	})
}

func decodeData(frame model.ClientFrame, v any) error {
	if len(frame.Data) == 0 {
		return apperrors.ValidationError("Missing data for op " + string(frame.Op))
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return apperrors.ValidationError("Invalid data for op " + string(frame.Op)).WithCause(err)
	}
	return nil
}

func (g *Gateway) join(ctx context.Context, s *session.Session, frame model.ClientFrame) (any, error) {
	var req model.RoomRequest
	if err := decodeData(frame, &req); err != nil {
		return nil, err
	}
	if _, err := g.svc.Rooms.Join(ctx, s, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (g *Gateway) leave(_ context.Context, s *session.Session, frame model.ClientFrame) (any, error) {
	var req model.RoomRequest
	if err := decodeData(frame, &req); err != nil {
		return nil, err
	}
	return nil, g.svc.Rooms.Leave(s, req)
}

func (g *Gateway) send(ctx context.Context, s *session.Session, frame model.ClientFrame) (any, error) {
	var req model.SendRequest
	if err := decodeData(frame, &req); err != nil {
		return nil, err
	}
	return g.svc.Messages.Send(ctx, s, req)
}

func (g *Gateway) setTyping(ctx context.Context, s *session.Session, frame model.ClientFrame) (any, error) {
	var req model.TypingRequest
	if err := decodeData(frame, &req); err != nil {
		return nil, err
	}
	return nil, g.svc.Typing.SetTyping(ctx, s, req)
}

func (g *Gateway) read(ctx context.Context, s *session.Session, frame model.ClientFrame) (any, error) {
	var req model.ReadRequest
	if err := decodeData(frame, &req); err != nil {
		return nil, err
	}
	return g.svc.Receipts.MarkRead(ctx, s, req)
}

func (g *Gateway) publishLocation(ctx context.Context, s *session.Session, frame model.ClientFrame) (any, error) {
	var req model.LocationRequest
	if err := decodeData(frame, &req); err != nil {
		return nil, err
	}
	return g.svc.Location.Publish(ctx, s, req)
}

type wsConn struct {
	conn      *websocket.Conn
	sess      *session.Session
	limiter   *rate.Limiter
	throttled bool
}

// readLoop returns the reason the client side ended.
func (c *wsConn) readLoop(ctx context.Context) session.CloseReason {
	c.conn.SetReadLimit(config.WSMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				return session.ReasonProtocolError
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.sess.Closed() {
				log.Debug().Err(err).Str("sessionId", c.sess.ID).Msg("websocket read error")
			}
			return session.ReasonClientClosed
		}
		c.conn.SetReadDeadline(time.Now().Add(config.WSPongWait))

		if msgType != websocket.TextMessage {
			return session.ReasonProtocolError
		}
		c.handle(ctx, data)
	}
}

func (c *wsConn) handle(ctx context.Context, data []byte) {
	var frame model.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sess.Deliver(model.NewErrorFrame("", string(apperrors.ErrCodeValidation), "Malformed frame", nil))
		return
	}

	if !c.limiter.Allow() {
		if !c.throttled {
			c.throttled = true
			audit.Log(ctx, audit.Event{
				Type:        audit.EventRateLimitExceed,
				PrincipalID: c.sess.PrincipalID(),
				SessionID:   c.sess.ID,
				Details:     map[string]interface{}{"scope": "inbound"},
			})
		}
		c.sess.Deliver(errorFrame(frame.ID, apperrors.RateLimitExceeded()))
		return
	}
	c.throttled = false

	result, err := c.sess.Dispatch(ctx, frame)
	if err != nil {
		c.sess.Deliver(errorFrame(frame.ID, err))
		return
	}

	ack, err := model.NewAck(frame.ID, result)
	if err != nil {
		log.Error().Err(err).Str("op", string(frame.Op)).Msg("failed to encode ack")
		c.sess.Deliver(errorFrame(frame.ID, apperrors.Internal("Failed to encode ack")))
		return
	}
	c.sess.Deliver(ack)
}

func errorFrame(id string, err error) model.Frame {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		log.Error().Err(err).Msg("unexpected error handling client frame")
		appErr = apperrors.Internal("An unexpected error occurred")
	}
	if appErr.Code == apperrors.ErrCodeInternal || appErr.Code == apperrors.ErrCodeStoreUnavailable {
		log.Error().Err(appErr).Str("requestId", id).Msg("client op failed")
	}
	return model.NewErrorFrame(id, string(appErr.Code), appErr.Message, appErr.Details)
}

// writeLoop is the only goroutine writing to the connection.
func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(config.WSPingInterval)
	expiry := time.NewTimer(time.Until(c.sess.Principal.ExpiresAt))
	defer func() {
		ticker.Stop()
		expiry.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.sess.Outbound():
			if err := c.write(frame); err != nil {
				c.sess.Close(session.ReasonClientClosed)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.sess.Close(session.ReasonClientClosed)
				return
			}

		case <-expiry.C:
			if frame, err := model.NewEvent(model.EventSessionExpired, model.SessionExpired{Reason: "credential expired"}); err == nil {
				c.write(frame)
			}
			c.sess.Close(session.ReasonSessionExpired)

		case <-c.sess.Done():
			reason := c.sess.CloseReason()
			if reason != session.ReasonSlowConsumer {
				c.flush()
			}
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(reason.Code, reason.Text))
			return
		}
	}
}

func (c *wsConn) write(frame model.Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteWait))
	return c.conn.WriteJSON(frame)
}

// flush writes whatever is still queued without blocking.
func (c *wsConn) flush() {
	for {
		select {
		case frame := <-c.sess.Outbound():
			if err := c.write(frame); err != nil {
				return
			}
		default:
			return
		}
	}
}
