package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
)

func receive(t *testing.T, sub realtime.Subscription) chat.Message {
	t.Helper()
	select {
	case frame, ok := <-sub.Frames():
		require.True(t, ok)
		msg, err := realtime.Decode(frame)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame delivered")
		return chat.Message{}
	}
}

func TestHub_FansOutToBothParticipants(t *testing.T) {
	req := require.New(t)
	hub := NewHub(4, nil)
	ctx := context.Background()

	a, err := hub.Subscribe(ctx, "A")
	req.NoError(err)
	b, err := hub.Subscribe(ctx, "B")
	req.NoError(err)
	c, err := hub.Subscribe(ctx, "C")
	req.NoError(err)
	defer c.Close()

	msg := chat.Message{ID: "1", SenderID: "A", ReceiverID: "B", Content: "hi", CreatedAt: time.Now().UTC()}
	req.NoError(hub.Publish(ctx, msg))

	req.Equal(msg.ID, receive(t, a).ID)
	req.Equal(msg.ID, receive(t, b).ID)
	select {
	case <-c.Frames():
		t.Fatal("unrelated subscriber received a frame")
	default:
	}
}

func TestHub_SelfMessageDeliveredOnce(t *testing.T) {
	hub := NewHub(4, nil)
	sub, err := hub.Subscribe(context.Background(), "A")
	require.NoError(t, err)

	delivered := hub.Broadcast("A", "A", []byte("{}"))
	require.Equal(t, 1, delivered)
	require.NoError(t, sub.Close())
}

func TestHub_SlowSubscriberIsDropped(t *testing.T) {
	req := require.New(t)
	hub := NewHub(1, nil)
	sub, err := hub.Subscribe(context.Background(), "A")
	req.NoError(err)

	hub.Broadcast("A", "B", []byte("1"))
	hub.Broadcast("A", "B", []byte("2"))

	// the buffered frame is still readable, then the channel closes
	frame, ok := <-sub.Frames()
	req.True(ok)
	req.Equal("1", string(frame))
	_, ok = <-sub.Frames()
	req.False(ok)
	req.ErrorIs(sub.Err(), chat.ErrSubscriptionDropped)
	req.Zero(hub.Subscribers("A"))
}

func TestHub_ContextEndsSubscription(t *testing.T) {
	hub := NewHub(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, "A")
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers("A") == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-sub.Frames()
	require.False(t, ok)
	require.NoError(t, sub.Err())
	require.NoError(t, sub.Close())
}

func TestHub_DrivesSessionEndToEnd(t *testing.T) {
	req := require.New(t)
	hub := NewHub(8, nil)
	store := NewMessageStore()
	ctx := context.Background()
	_, err := store.Append(ctx, chat.Message{SenderID: "A", ReceiverID: "B", Content: "before"})
	req.NoError(err)

	loader := realtime.ThreadLoaderFunc(func(ctx context.Context, viewer, counterpart chat.UserID, since *time.Time) ([]chat.Message, error) {
		return store.Query(ctx, viewer, counterpart, since)
	})
	session := realtime.NewSession("A", hub, loader, realtime.SessionConfig{Profiles: NewProfileStore()})
	defer session.Close()
	req.NoError(session.Open(ctx, "B"))

	reply, err := store.Append(ctx, chat.Message{SenderID: "B", ReceiverID: "A", Content: "after"})
	req.NoError(err)
	req.NoError(hub.Publish(ctx, reply))
	req.NoError(hub.Publish(ctx, reply))

	req.Eventually(func() bool { return len(session.Messages()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	req.Len(session.Messages(), 2)
}
