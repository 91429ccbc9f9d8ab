package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/internal/domain/chat"
)

func TestMessageStore_AssignsMonotonicIdentity(t *testing.T) {
	req := require.New(t)
	frozen := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	store := NewMessageStore().WithClock(func() time.Time { return frozen })
	ctx := context.Background()

	first, err := store.Append(ctx, chat.Message{SenderID: "A", ReceiverID: "B", Content: "hi"})
	req.NoError(err)
	second, err := store.Append(ctx, chat.Message{SenderID: "B", ReceiverID: "A", Content: "hey"})
	req.NoError(err)

	req.NotEmpty(first.ID)
	req.NotEqual(first.ID, second.ID)
	req.True(first.CreatedAt.Before(second.CreatedAt))
	req.True(first.Before(second))
	req.Less(string(first.ID), string(second.ID))
}

func TestMessageStore_QueryAndListing(t *testing.T) {
	req := require.New(t)
	store := NewMessageStore()
	ctx := context.Background()

	ab, _ := store.Append(ctx, chat.Message{SenderID: "A", ReceiverID: "B", Content: "1"})
	ba, _ := store.Append(ctx, chat.Message{SenderID: "B", ReceiverID: "A", Content: "2"})
	_, _ = store.Append(ctx, chat.Message{SenderID: "A", ReceiverID: "C", Content: "3"})
	_, _ = store.Append(ctx, chat.Message{SenderID: "B", ReceiverID: "C", Content: "4"})

	thread, err := store.Query(ctx, "B", "A", nil)
	req.NoError(err)
	req.Equal([]chat.MessageID{ab.ID, ba.ID}, []chat.MessageID{thread[0].ID, thread[1].ID})

	since := ba.CreatedAt
	tail, err := store.Query(ctx, "A", "B", &since)
	req.NoError(err)
	req.Len(tail, 1)
	req.Equal(ba.ID, tail[0].ID)

	mine, err := store.ListForUser(ctx, "A")
	req.NoError(err)
	req.Len(mine, 3)

	ok, err := store.HasMessage(ctx, "A", "C")
	req.NoError(err)
	req.True(ok)
	ok, err = store.HasMessage(ctx, "C", "A")
	req.NoError(err)
	req.False(ok)
}

func TestReadMarkers_OnlyMoveForward(t *testing.T) {
	req := require.New(t)
	markers := NewReadMarkers()
	ctx := context.Background()
	t1 := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	req.NoError(markers.MarkRead(ctx, "A", "B", t1.Add(time.Minute)))
	req.NoError(markers.MarkRead(ctx, "A", "B", t1))

	got, err := markers.ReadMarkers(ctx, "A")
	req.NoError(err)
	req.True(got["B"].Equal(t1.Add(time.Minute)))

	other, err := markers.ReadMarkers(ctx, "B")
	req.NoError(err)
	req.Empty(other)
}

func TestProfileStore_UnknownIDs(t *testing.T) {
	req := require.New(t)
	profiles := NewProfileStore()
	profiles.Seed(map[string]string{"A": "Ann"})

	p, err := profiles.Profile(context.Background(), "A")
	req.NoError(err)
	req.Equal("Ann", p.Name)

	_, err = profiles.Profile(context.Background(), "ghost")
	req.ErrorIs(err, chat.ErrUserNotFound)

	batch, err := profiles.Profiles(context.Background(), []chat.UserID{"A", "ghost"})
	req.NoError(err)
	req.Len(batch, 1)
}
