package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Attachments is stored as a JSONB array.
type Attachments []Attachment

func (a Attachments) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *Attachments) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*a = Attachments{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan attachments: unsupported type %T", src)
	}
	return json.Unmarshal(raw, a)
}

// Message is immutable once persisted. Sequence is dense per room.
type Message struct {
	ID          string      `db:"id" json:"id"`
	RoomID      string      `db:"room_id" json:"roomId"`
	OrderID     string      `db:"order_id" json:"orderId"`
	SenderID    string      `db:"sender_id" json:"senderId"`
	Sequence    int64       `db:"sequence" json:"sequence"`
	Content     string      `db:"content" json:"content"`
	Attachments Attachments `db:"attachments" json:"attachments"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
}

type AppendMessageParams struct {
	RoomID      string
	OrderID     string
	SenderID    string
	Content     string
	Attachments Attachments
}

type ReadMarker struct {
	RoomID           string    `db:"room_id" json:"roomId"`
	PrincipalID      string    `db:"principal_id" json:"principalId"`
	LastReadSequence int64     `db:"last_read_sequence" json:"lastReadSequence"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`
}

type TypingState struct {
	RoomID      string    `json:"roomId"`
	PrincipalID string    `json:"principalId"`
	IsTyping    bool      `json:"isTyping"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// HistoryPage is one page of history in descending sequence order.
type HistoryPage struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"hasMore"`
}
