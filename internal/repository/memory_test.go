package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlink/realtime-server-go/internal/model"
)

func appendN(t *testing.T, store MessageStore, roomID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.Append(context.Background(), model.AppendMessageParams{
			RoomID:   roomID,
			OrderID:  "order-42",
			SenderID: "user-a",
			Content:  fmt.Sprintf("msg %d", i+1),
		})
		require.NoError(t, err)
	}
}

func sequences(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sequence
	}
	return out
}

func ptr(v int64) *int64 { return &v }

func TestMemoryMessageStore_Append(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns dense sequences per room", func(t *testing.T) {
		store := NewMemoryMessageStore()

		first, err := store.Append(ctx, model.AppendMessageParams{RoomID: "chat:order-42", SenderID: "user-a", Content: "Hello"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.Sequence)
		assert.NotEmpty(t, first.ID)
		assert.NotNil(t, first.Attachments)

		other, err := store.Append(ctx, model.AppendMessageParams{RoomID: "chat:order-7", SenderID: "user-a", Content: "Hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), other.Sequence)

		second, err := store.Append(ctx, model.AppendMessageParams{RoomID: "chat:order-42", SenderID: "agent-b", Content: "Hey"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), second.Sequence)
	})

	t.Run("concurrent appends never duplicate or skip", func(t *testing.T) {
		store := NewMemoryMessageStore()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := store.Append(ctx, model.AppendMessageParams{RoomID: "chat:order-42", SenderID: "user-a", Content: "x"})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		highest, err := store.HighestSequence(ctx, "chat:order-42")
		require.NoError(t, err)
		assert.Equal(t, int64(50), highest)

		page, err := store.Page(ctx, "chat:order-42", nil, 100)
		require.NoError(t, err)
		require.Len(t, page, 50)
		for i, m := range page {
			assert.Equal(t, int64(50-i), m.Sequence)
		}
	})
}

func TestMemoryMessageStore_Page(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMessageStore()
	appendN(t, store, "chat:order-42", 10)

	tests := []struct {
		name     string
		before   *int64
		limit    int
		expected []int64
	}{
		{"newest page without cursor", nil, 3, []int64{10, 9, 8}},
		{"strictly older than cursor", ptr(5), 3, []int64{4, 3, 2}},
		{"short page at the beginning", ptr(3), 5, []int64{2, 1}},
		{"cursor at first message", ptr(1), 5, []int64{}},
		{"cursor beyond highest", ptr(99), 2, []int64{10, 9}},
		{"limit larger than history", nil, 50, []int64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page, err := store.Page(ctx, "chat:order-42", tc.before, tc.limit)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, sequences(page))
		})
	}

	t.Run("unknown room is empty", func(t *testing.T) {
		page, err := store.Page(ctx, "chat:missing", nil, 10)
		require.NoError(t, err)
		assert.Empty(t, page)

		highest, err := store.HighestSequence(ctx, "chat:missing")
		require.NoError(t, err)
		assert.Zero(t, highest)
	})
}

func TestMemoryReadMarkerStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryReadMarkerStore()

	marker, err := store.Find(ctx, "chat:order-42", "user-b")
	require.NoError(t, err)
	assert.Nil(t, marker)

	marker, advanced, err := store.Advance(ctx, "chat:order-42", "user-b", 3)
	require.NoError(t, err)
	assert.True(t, advanced)
	assert.Equal(t, int64(3), marker.LastReadSequence)

	t.Run("lower value is a no-op", func(t *testing.T) {
		marker, advanced, err := store.Advance(ctx, "chat:order-42", "user-b", 2)
		require.NoError(t, err)
		assert.False(t, advanced)
		assert.Equal(t, int64(3), marker.LastReadSequence)
	})

	t.Run("equal value is a no-op", func(t *testing.T) {
		_, advanced, err := store.Advance(ctx, "chat:order-42", "user-b", 3)
		require.NoError(t, err)
		assert.False(t, advanced)
	})

	t.Run("higher value advances", func(t *testing.T) {
		marker, advanced, err := store.Advance(ctx, "chat:order-42", "user-b", 7)
		require.NoError(t, err)
		assert.True(t, advanced)
		assert.Equal(t, int64(7), marker.LastReadSequence)
	})
}

func TestMemoryUnreadCounter(t *testing.T) {
	ctx := context.Background()
	counter := NewMemoryUnreadCounter()

	n, err := counter.Increment(ctx, "user-b", "order-42")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = counter.Increment(ctx, "user-b", "order-42")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, counter.Set(ctx, "user-b", "order-7", 5))

	all, err := counter.All(ctx, "user-b")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"order-42": 2, "order-7": 5}, all)

	require.NoError(t, counter.Set(ctx, "user-b", "order-42", 0))
	all, err = counter.All(ctx, "user-b")
	require.NoError(t, err)
	assert.Equal(t, int64(0), all["order-42"])
}

func TestMemoryLocationStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLocationStore()

	sample, err := store.Find(ctx, "order-42")
	require.NoError(t, err)
	assert.Nil(t, sample)

	require.NoError(t, store.Save(ctx, model.LocationSample{OrderID: "order-42", Lat: 1, Lng: 2}))
	require.NoError(t, store.Save(ctx, model.LocationSample{OrderID: "order-42", Lat: 3, Lng: 4}))

	sample, err = store.Find(ctx, "order-42")
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, 3.0, sample.Lat)
	assert.Equal(t, 4.0, sample.Lng)
}
