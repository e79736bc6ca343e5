// Package client is a Go client for the realtime server. It keeps one
// websocket session alive, rejoins rooms after reconnecting and backfills
// chat history so every message is handed to the caller exactly once, in
// sequence order.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/orderlink/realtime-server-go/internal/model"
)

var (
	ErrUnauthorized = errors.New("client: credential rejected")
	ErrDisconnected = errors.New("client: not connected")
)

// ServerError is returned for error frames.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// TokenSource returns the credential for the next connection attempt.
type TokenSource func(ctx context.Context) (string, error)

// Handlers run on the client's goroutines and must not wait on calls made
// through the same client.
type Handlers struct {
	// Message receives every chat message once, ascending per order.
	Message func(model.Message)
	// Event receives every other server event.
	Event func(model.Frame)
}

type Options struct {
	// BaseURL is the server's http(s) base, e.g. https://rt.example.com.
	BaseURL    string
	Token      TokenSource
	Handlers   Handlers
	HTTPClient *http.Client
	// PageSize bounds each history request made while backfilling.
	PageSize int
	// MaxBackoff caps the delay between reconnect attempts.
	MaxBackoff time.Duration
	Logger     *zerolog.Logger
}

type Client struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	conn    *websocket.Conn
	token   string
	rooms   map[model.RoomKey]struct{}
	lastSeq map[string]int64
	pending map[string]chan model.Frame

	writeMu sync.Mutex
	// emitMu keeps Handlers.Message calls ordered across the reader and
	// Send callers.
	emitMu sync.Mutex
}

func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 50
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &Client{
		opts:    opts,
		http:    opts.HTTPClient,
		logger:  logger.With().Str("component", "realtime-client").Logger(),
		rooms:   make(map[model.RoomKey]struct{}),
		lastSeq: make(map[string]int64),
		pending: make(map[string]chan model.Frame),
	}
}

// LastSequence is the highest chat sequence handed to Handlers.Message for
// the order.
func (c *Client) LastSequence(orderID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq[orderID]
}

// Run connects and keeps reconnecting with exponential backoff until ctx
// is done or the credential is rejected.
func (c *Client) Run(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = c.opts.MaxBackoff
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(policy, ctx)

	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			var err error
			conn, err = c.dial(ctx)
			return err
		}, b, func(err error, wait time.Duration) {
			c.logger.Warn().Err(err).Dur("retryIn", wait).Msg("connect failed")
		})
		if err != nil {
			return err
		}
		b.Reset()

		closeErr := c.serve(ctx, conn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info().Err(closeErr).Msg("connection lost, reconnecting")
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.opts.Token(ctx)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("token source: %w", err))
	}

	u, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("parse base url: %w", err))
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/v1/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backoff.Permanent(ErrUnauthorized)
		}
		return nil, err
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	return conn, nil
}

// serve runs one connection: the reader starts first so rejoin acks can
// be received, then every remembered room is joined again.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	rooms := make([]model.RoomKey, 0, len(c.rooms))
	for k := range c.rooms {
		rooms = append(rooms, k)
	}
	c.mu.Unlock()

	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for _, key := range rooms {
		if err := c.call(ctx, model.OpJoin, model.RoomRequest{Kind: key.Kind, OrderID: key.OrderID}, nil); err != nil {
			c.logger.Warn().Err(err).Str("room", key.String()).Msg("rejoin failed")
		}
	}

	err := <-readErr

	c.mu.Lock()
	c.conn = nil
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	conn.Close()
	return err
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		var frame model.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}

		switch frame.Type {
		case model.FrameAck, model.FrameError:
			c.mu.Lock()
			ch, ok := c.pending[frame.ID]
			delete(c.pending, frame.ID)
			c.mu.Unlock()
			if ok {
				ch <- frame
			}
		case model.EventNewMessage:
			var msg model.Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				c.logger.Warn().Err(err).Msg("malformed new-message event")
				continue
			}
			c.deliver(context.Background(), msg)
		case model.EventRoomJoinedSnapshot:
			c.applySnapshot(frame)
		default:
			if c.opts.Handlers.Event != nil {
				c.opts.Handlers.Event(frame)
			}
		}
	}
}

func (c *Client) applySnapshot(frame model.Frame) {
	var snap model.RoomSnapshot
	if err := json.Unmarshal(frame.Data, &snap); err != nil {
		c.logger.Warn().Err(err).Msg("malformed snapshot")
		return
	}
	if snap.Kind == model.RoomKindChat {
		msgs := append([]model.Message(nil), snap.Messages...)
		sort.Slice(msgs, func(i, j int) bool { return msgs[i].Sequence < msgs[j].Sequence })

		// First join: history before the snapshot page is not replayed.
		c.mu.Lock()
		if _, known := c.lastSeq[snap.OrderID]; !known {
			base := snap.HighestSequence
			if len(msgs) > 0 {
				base = msgs[0].Sequence - 1
			}
			c.lastSeq[snap.OrderID] = base
		}
		c.mu.Unlock()

		for _, m := range msgs {
			c.deliver(context.Background(), m)
		}
	}
	if c.opts.Handlers.Event != nil {
		c.opts.Handlers.Event(frame)
	}
}

// deliver hands msg over unless it was already seen. A gap between the
// last delivered sequence and msg is filled from history first.
func (c *Client) deliver(ctx context.Context, msg model.Message) {
	c.mu.Lock()
	last, known := c.lastSeq[msg.OrderID]
	c.mu.Unlock()

	if msg.Sequence <= last {
		return
	}
	if known && msg.Sequence > last+1 {
		missing, err := c.Backfill(ctx, msg.OrderID, last, msg.Sequence)
		if err != nil {
			c.logger.Warn().Err(err).Str("orderId", msg.OrderID).Msg("backfill failed")
		}
		for _, m := range missing {
			c.emit(m)
		}
	}
	c.emit(msg)
}

func (c *Client) emit(msg model.Message) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if msg.Sequence <= c.lastSeq[msg.OrderID] {
		c.mu.Unlock()
		return
	}
	c.lastSeq[msg.OrderID] = msg.Sequence
	c.mu.Unlock()

	if c.opts.Handlers.Message != nil {
		c.opts.Handlers.Message(msg)
	}
}

// Backfill returns the messages with after < sequence < before in
// ascending order, paging backwards through history.
func (c *Client) Backfill(ctx context.Context, orderID string, after, before int64) ([]model.Message, error) {
	var collected []model.Message
	cursor := before

	for cursor > after+1 {
		page, err := c.History(ctx, orderID, cursor, c.opts.PageSize)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Messages {
			if m.Sequence > after {
				collected = append(collected, m)
			}
		}
		if !page.HasMore || len(page.Messages) == 0 {
			break
		}
		cursor = page.Messages[len(page.Messages)-1].Sequence
	}

	sort.Slice(collected, func(i, j int) bool { return collected[i].Sequence < collected[j].Sequence })
	return collected, nil
}

// History fetches one page strictly older than before, newest first.
func (c *Client) History(ctx context.Context, orderID string, before int64, limit int) (*model.HistoryPage, error) {
	q := url.Values{}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := fmt.Sprintf("%s/v1/orders/%s/messages?%s", c.opts.BaseURL, url.PathEscape(orderID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("history request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		return nil, &ServerError{Code: body.Code, Message: body.Error}
	}

	var page model.HistoryPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return &page, nil
}

func (c *Client) call(ctx context.Context, op model.Op, data any, out any) error {
	frame := model.ClientFrame{
		ID: strconv.FormatUint(c.nextID.Add(1), 10),
		Op: op,
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		frame.Data = raw
	}

	ch := make(chan model.Frame, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.pending[frame.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := conn.WriteJSON(frame)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		return fmt.Errorf("write %s: %w", op, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, frame.ID)
		c.mu.Unlock()
		return ctx.Err()
	case reply, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if reply.Type == model.FrameError {
			if reply.Error == nil {
				return &ServerError{Code: "UNKNOWN", Message: "error frame without body"}
			}
			return &ServerError{Code: reply.Error.Code, Message: reply.Error.Message}
		}
		if out != nil && len(reply.Data) > 0 {
			return json.Unmarshal(reply.Data, out)
		}
		return nil
	}
}

// Join subscribes to a room and remembers it for reconnects.
func (c *Client) Join(ctx context.Context, kind model.RoomKind, orderID string) error {
	key := model.RoomKey{Kind: kind, OrderID: orderID}
	if err := c.call(ctx, model.OpJoin, model.RoomRequest{Kind: kind, OrderID: orderID}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.rooms[key] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) Leave(ctx context.Context, kind model.RoomKind, orderID string) error {
	key := model.RoomKey{Kind: kind, OrderID: orderID}
	c.mu.Lock()
	delete(c.rooms, key)
	c.mu.Unlock()
	return c.call(ctx, model.OpLeave, model.RoomRequest{Kind: kind, OrderID: orderID}, nil)
}

// Send persists a message. The server does not echo it back as an event
// to this session, so it is handed to Handlers.Message from the ack.
func (c *Client) Send(ctx context.Context, orderID, content string, attachments ...model.Attachment) (*model.Message, error) {
	var msg model.Message
	err := c.call(ctx, model.OpSend, model.SendRequest{OrderID: orderID, Content: content, Attachments: attachments}, &msg)
	if err != nil {
		return nil, err
	}
	c.deliver(ctx, msg)
	return &msg, nil
}

func (c *Client) SetTyping(ctx context.Context, orderID string, isTyping bool) error {
	return c.call(ctx, model.OpTyping, model.TypingRequest{OrderID: orderID, IsTyping: isTyping}, nil)
}

func (c *Client) MarkRead(ctx context.Context, orderID string, upTo int64) (*model.ReadResult, error) {
	var result model.ReadResult
	if err := c.call(ctx, model.OpRead, model.ReadRequest{OrderID: orderID, UpToSequence: upTo}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) PublishLocation(ctx context.Context, req model.LocationRequest) (*model.LocationSample, error) {
	var sample model.LocationSample
	if err := c.call(ctx, model.OpLocation, req, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, model.OpPing, nil, nil)
}

// Connected reports whether a websocket session is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Drop closes the current connection; Run reconnects.
func (c *Client) Drop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
