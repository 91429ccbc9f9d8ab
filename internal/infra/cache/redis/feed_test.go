package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
)

func TestUserChannel(t *testing.T) {
	require.Equal(t, "peerchat:user:alice", userChannel("alice"))
}

// Runs against a live server when REDIS_TEST_ADDR is set.
func TestFeed_Integration(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feed, err := NewFeed(ctx, &redis.Options{Addr: addr}, nil)
	req.NoError(err)
	defer feed.Close()

	alice := chat.UserID("alice-" + uuid.NewString())
	bob := chat.UserID("bob-" + uuid.NewString())

	sub, err := feed.Subscribe(ctx, alice)
	req.NoError(err)

	msg := chat.Message{ID: "m1", SenderID: bob, ReceiverID: alice, Content: "hi", CreatedAt: time.Now().UTC()}
	req.NoError(feed.Publish(ctx, msg))

	select {
	case frame := <-sub.Frames():
		got, err := realtime.Decode(frame)
		req.NoError(err)
		req.Equal(msg.ID, got.ID)
	case <-ctx.Done():
		t.Fatal("no frame received")
	}

	req.NoError(sub.Close())
	req.NoError(sub.Err())
	_, open := <-sub.Frames()
	req.False(open)
}

func TestFeed_SubscribeRequiresUser(t *testing.T) {
	f := &Feed{}
	_, err := f.Subscribe(context.Background(), "")
	require.ErrorIs(t, err, chat.ErrParticipantRequired)
}
