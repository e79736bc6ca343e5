package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/orderlink/realtime-server-go/internal/errors"
	"github.com/orderlink/realtime-server-go/internal/model"
)

func TestSendAndPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	a := f.connect(requester, model.RoleRequester)
	aPhone := f.connect(requester, model.RoleRequester)
	b := f.connect(agent, model.RoleAgent)
	f.join(t, a, model.RoomKindChat)
	f.join(t, aPhone, model.RoomKindChat)
	f.join(t, b, model.RoomKindChat)

	msg, err := f.messages.Send(ctx, a, model.SendRequest{OrderID: orderID, Content: "Hello"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), msg.Sequence)
	assert.Equal(t, requester, msg.SenderID)

	t.Run("peer and sender's other device receive the message", func(t *testing.T) {
		for _, s := range []struct {
			name   string
			frames []model.Frame
		}{{"peer", drain(b)}, {"other device", drain(aPhone)}} {
			events := ofType(s.frames, model.EventNewMessage)
			require.Len(t, events, 1, s.name)
			got := decode[model.Message](t, events[0])
			assert.Equal(t, "Hello", got.Content)
			assert.Equal(t, int64(1), got.Sequence)
		}
	})

	t.Run("sending session gets no event", func(t *testing.T) {
		assert.Empty(t, ofType(drain(a), model.EventNewMessage))
	})

	t.Run("page returns the message", func(t *testing.T) {
		page, err := f.messages.Page(ctx, agent, orderID, nil, 10)
		require.NoError(t, err)
		require.Len(t, page.Messages, 1)
		assert.Equal(t, "Hello", page.Messages[0].Content)
		assert.False(t, page.HasMore)
	})

	t.Run("recipient unread incremented", func(t *testing.T) {
		counts, err := f.unread.All(ctx, agent)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[orderID])

		counts, err = f.unread.All(ctx, requester)
		require.NoError(t, err)
		assert.Zero(t, counts[orderID])
	})
}

func TestSendRequiresMembership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.connect(requester, model.RoleRequester)

	_, err := f.messages.Send(ctx, a, model.SendRequest{OrderID: orderID, Content: "Hello"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAMember))

	f.join(t, a, model.RoomKindTracking)
	_, err = f.messages.Send(ctx, a, model.SendRequest{OrderID: orderID, Content: "Hello"})
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeNotAMember), "tracking membership does not grant chat")

	highest, err := f.store.HighestSequence(ctx, model.ChatRoom(orderID).String())
	require.NoError(t, err)
	assert.Zero(t, highest)
}

func TestSendValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.connect(requester, model.RoleRequester)
	f.join(t, a, model.RoomKindChat)

	tests := []struct {
		name string
		req  model.SendRequest
		code apperrors.ErrorCode
	}{
		{"missing order", model.SendRequest{Content: "x"}, apperrors.ErrCodeMissingRequired},
		{"bad order id", model.SendRequest{OrderID: "order 42", Content: "x"}, apperrors.ErrCodeInvalidInput},
		{"empty content", model.SendRequest{OrderID: orderID, Content: "   "}, apperrors.ErrCodeMissingRequired},
		{"invalid utf-8", model.SendRequest{OrderID: orderID, Content: "bad \xff"}, apperrors.ErrCodeInvalidInput},
		{"too long", model.SendRequest{OrderID: orderID, Content: strings.Repeat("a", MaxContentLength+1)}, apperrors.ErrCodeInvalidInput},
		{"bad attachment", model.SendRequest{OrderID: orderID, Attachments: model.Attachments{{URL: "ftp://x"}}}, apperrors.ErrCodeInvalidInput},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.messages.Send(ctx, a, tc.req)
			assert.True(t, apperrors.Is(err, tc.code), "got %v", err)
		})
	}

	t.Run("attachment only is allowed", func(t *testing.T) {
		msg, err := f.messages.Send(ctx, a, model.SendRequest{
			OrderID:     orderID,
			Attachments: model.Attachments{{URL: "https://cdn.example/receipt.jpg", MimeType: "image/jpeg"}},
		})
		require.NoError(t, err)
		assert.Len(t, msg.Attachments, 1)
	})
}

func TestSendStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	store := new(mockMessageStore)
	store.On("Page", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]model.Message{}, nil)
	store.On("Append", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	f := newFixture(t, store)
	a := f.connect(requester, model.RoleRequester)
	b := f.connect(agent, model.RoleAgent)
	f.join(t, a, model.RoomKindChat)
	f.join(t, b, model.RoomKindChat)

	msg, err := f.messages.Send(ctx, a, model.SendRequest{OrderID: orderID, Content: "Hello"})
	assert.Nil(t, msg)
	assert.True(t, apperrors.Is(err, apperrors.ErrCodeStoreUnavailable))

	assert.Empty(t, ofType(drain(b), model.EventNewMessage))
	assert.Empty(t, ofType(drain(a), model.EventNewMessage))

	counts, _ := f.unread.All(ctx, agent)
	assert.Zero(t, counts[orderID])
	store.AssertExpectations(t)
}

func TestBroadcastOrderMatchesSequence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	observer := f.connect(agent, model.RoleAgent)
	f.join(t, observer, model.RoomKindChat)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		s := f.connect(requester, model.RoleRequester)
		f.join(t, s, model.RoomKindChat)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := f.messages.Send(ctx, s, model.SendRequest{OrderID: orderID, Content: fmt.Sprintf("%d-%d", i, j)})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	events := ofType(drain(observer), model.EventNewMessage)
	require.Len(t, events, 40)
	for i, e := range events {
		assert.Equal(t, int64(i+1), decode[model.Message](t, e).Sequence)
	}
}

func TestPage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	a := f.connect(requester, model.RoleRequester)
	f.join(t, a, model.RoomKindChat)

	for i := 0; i < 7; i++ {
		_, err := f.messages.Send(ctx, a, model.SendRequest{OrderID: orderID, Content: "m"})
		require.NoError(t, err)
	}

	t.Run("cursor pages strictly older, newest first", func(t *testing.T) {
		before := int64(6)
		page, err := f.messages.Page(ctx, requester, orderID, &before, 3)
		require.NoError(t, err)
		require.Len(t, page.Messages, 3)
		assert.Equal(t, int64(5), page.Messages[0].Sequence)
		assert.Equal(t, int64(3), page.Messages[2].Sequence)
		assert.True(t, page.HasMore)
	})

	t.Run("last page has no more", func(t *testing.T) {
		before := int64(3)
		page, err := f.messages.Page(ctx, requester, orderID, &before, 3)
		require.NoError(t, err)
		assert.Len(t, page.Messages, 2)
		assert.False(t, page.HasMore)
	})

	t.Run("limit clamps to max page size", func(t *testing.T) {
		page, err := f.messages.Page(ctx, requester, orderID, nil, 1000)
		require.NoError(t, err)
		assert.Len(t, page.Messages, 7)
	})

	t.Run("non participant is forbidden", func(t *testing.T) {
		_, err := f.messages.Page(ctx, "intruder", orderID, nil, 10)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeForbidden))
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := f.messages.Page(ctx, requester, "order-404", nil, 10)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeRoomNotFound))
	})

	t.Run("invalid cursor", func(t *testing.T) {
		before := int64(0)
		_, err := f.messages.Page(ctx, requester, orderID, &before, 10)
		assert.True(t, apperrors.Is(err, apperrors.ErrCodeInvalidInput))
	})
}
