package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
)

func TestRoomKey(t *testing.T) {
	assert.Equal(t, "chat:order-42", ChatRoom("order-42").String())
	assert.Equal(t, "tracking:order-42", TrackingRoom("order-42").String())
	assert.NotEqual(t, ChatRoom("order-42"), TrackingRoom("order-42"))
}

func TestParticipants(t *testing.T) {
	p := Participants{RequesterID: "user-a", AgentID: "agent-b"}

	t.Run("Includes", func(t *testing.T) {
		assert.True(t, p.Includes("user-a"))
		assert.True(t, p.Includes("agent-b"))
		assert.False(t, p.Includes("intruder"))
		assert.False(t, p.Includes(""))
	})

	t.Run("Other", func(t *testing.T) {
		assert.Equal(t, "agent-b", p.Other("user-a"))
		assert.Equal(t, "user-a", p.Other("agent-b"))
		assert.Empty(t, p.Other("intruder"))
	})
}

func TestAttachmentsScan(t *testing.T) {
	var a Attachments
	require.NoError(t, a.Scan([]byte(`[{"url":"https://cdn/x.png","mimeType":"image/png"}]`)))
	require.Len(t, a, 1)
	assert.Equal(t, "image/png", a[0].MimeType)

	require.NoError(t, a.Scan(nil))
	assert.Empty(t, a)

	assert.Error(t, a.Scan(42))
}

func TestAttachmentsValueNil(t *testing.T) {
	v, err := Attachments(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("[]"), v)
}

func TestFrame(t *testing.T) {
	t.Run("only location updates are lossy", func(t *testing.T) {
		assert.True(t, Frame{Type: EventLocationUpdate}.Lossy())
		assert.False(t, Frame{Type: EventNewMessage}.Lossy())
		assert.False(t, Frame{Type: EventLocationStale}.Lossy())
		assert.False(t, Frame{Type: FrameAck}.Lossy())
	})

	t.Run("ack without payload encodes empty object", func(t *testing.T) {
		f, err := NewAck("req-1", nil)
		require.NoError(t, err)

		raw, err := json.Marshal(f)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"ack","id":"req-1","data":{}}`, string(raw))
	})

	t.Run("event omits id", func(t *testing.T) {
		f, err := NewEvent(EventTypingChanged, TypingChanged{OrderID: "order-42", PrincipalID: "user-a", IsTyping: true})
		require.NoError(t, err)

		raw, err := json.Marshal(f)
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"typing-changed","data":{"orderId":"order-42","principalId":"user-a","isTyping":true}}`, string(raw))
	})

	t.Run("error frame", func(t *testing.T) {
		raw, err := json.Marshal(NewErrorFrame("req-2", "FORBIDDEN", "nope", nil))
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"error","id":"req-2","error":{"code":"FORBIDDEN","message":"nope"}}`, string(raw))

		var decoded Frame
		require.NoError(t, json.Unmarshal(raw, &decoded))
		assert.Equal(t, FrameError, decoded.Type)
		require.NotNil(t, decoded.Error)
		assert.Equal(t, ErrorBody{Code: "FORBIDDEN", Message: "nope"}, *decoded.Error)
	})
}

func TestLocationSampleValidate(t *testing.T) {
	valid := LocationSample{OrderID: "order-42", Lat: 37.5, Lng: 127.0, Heading: 90}
	assert.NoError(t, valid.Validate())

	cases := map[string]LocationSample{
		"lat":     {Lat: 91},
		"lng":     {Lng: -181},
		"heading": {Heading: 360},
	}
	for field, s := range cases {
		t.Run(field, func(t *testing.T) {
			err := s.Validate()
			assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
		})
	}
}
