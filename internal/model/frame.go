package model

import (
	"encoding/json"
	"time"
)

type FrameType string

const (
	FrameAck   FrameType = "ack"
	FrameError FrameType = "error"

	EventRoomJoinedSnapshot FrameType = "room-joined-snapshot"
	EventNewMessage         FrameType = "new-message"
	EventTypingChanged      FrameType = "typing-changed"
	EventReadReceipt        FrameType = "read-receipt"
	EventLocationUpdate     FrameType = "location-update"
	EventLocationStale      FrameType = "location-stale"
	EventSessionExpired     FrameType = "session-expired"
)

type Op string

const (
	OpJoin     Op = "join"
	OpLeave    Op = "leave"
	OpSend     Op = "send"
	OpTyping   Op = "typing"
	OpRead     Op = "read"
	OpLocation Op = "location"
	OpPing     Op = "ping"
)

// ClientFrame is a request sent by a client. ID correlates the ack or error.
type ClientFrame struct {
	ID   string          `json:"id"`
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorBody is the payload of an error frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Frame is everything the server writes to a client: acks, errors and
// broadcast events. Data is encoded once and shared by every recipient.
type Frame struct {
	Type  FrameType       `json:"type"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *ErrorBody      `json:"error,omitempty"`
}

// Lossy frames may be dropped for a slow consumer. Everything else must be
// delivered or the consumer disconnected.
func (f Frame) Lossy() bool {
	return f.Type == EventLocationUpdate
}

func NewEvent(t FrameType, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: t, Data: data}, nil
}

func NewAck(id string, payload any) (Frame, error) {
	if payload == nil {
		payload = struct{}{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameAck, ID: id, Data: data}, nil
}

func NewErrorFrame(id string, code, message string, details any) Frame {
	return Frame{Type: FrameError, ID: id, Error: &ErrorBody{Code: code, Message: message, Details: details}}
}

// Request payloads

type RoomRequest struct {
	Kind    RoomKind `json:"kind"`
	OrderID string   `json:"orderId"`
}

type SendRequest struct {
	OrderID     string      `json:"orderId"`
	Content     string      `json:"content"`
	Attachments Attachments `json:"attachments,omitempty"`
}

type TypingRequest struct {
	OrderID  string `json:"orderId"`
	IsTyping bool   `json:"isTyping"`
}

type ReadRequest struct {
	OrderID      string `json:"orderId"`
	UpToSequence int64  `json:"upToSequence"`
}

type LocationRequest struct {
	OrderID    string     `json:"orderId"`
	Lat        float64    `json:"lat"`
	Lng        float64    `json:"lng"`
	Heading    float64    `json:"heading"`
	ObservedAt *time.Time `json:"observedAt,omitempty"`
}

// Event payloads

type RoomSnapshot struct {
	Kind             RoomKind        `json:"kind"`
	OrderID          string          `json:"orderId"`
	Participants     Participants    `json:"participants"`
	Messages         []Message       `json:"messages,omitempty"`
	HasMore          bool            `json:"hasMore,omitempty"`
	HighestSequence  int64           `json:"highestSequence,omitempty"`
	LastReadSequence int64           `json:"lastReadSequence,omitempty"`
	Location         *LocationSample `json:"location,omitempty"`
	Stale            bool            `json:"stale,omitempty"`
}

type TypingChanged struct {
	OrderID     string `json:"orderId"`
	PrincipalID string `json:"principalId"`
	IsTyping    bool   `json:"isTyping"`
}

type ReadReceipt struct {
	OrderID          string    `json:"orderId"`
	PrincipalID      string    `json:"principalId"`
	LastReadSequence int64     `json:"lastReadSequence"`
	ReadAt           time.Time `json:"readAt"`
}

type ReadResult struct {
	OrderID          string `json:"orderId"`
	LastReadSequence int64  `json:"lastReadSequence"`
	Unread           int64  `json:"unread"`
}

type LocationStale struct {
	OrderID        string    `json:"orderId"`
	LastObservedAt time.Time `json:"lastObservedAt"`
}

type SessionExpired struct {
	Reason string `json:"reason"`
}
