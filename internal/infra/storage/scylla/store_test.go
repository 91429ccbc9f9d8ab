package scylla

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"peerchat/internal/domain/chat"
	"peerchat/internal/infra/config"
)

func TestStore_NextTimestampIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	s := &Store{clock: func() time.Time { return fixed }}

	first := s.nextTimestamp()
	second := s.nextTimestamp()
	third := s.nextTimestamp()

	require.Equal(t, fixed, first)
	require.Equal(t, fixed.Add(time.Millisecond), second)
	require.Equal(t, fixed.Add(2*time.Millisecond), third)
}

func TestToMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.FixedZone("x", 3600))
	id := gocql.UUIDFromTime(at)

	msg := toMessage(id, "a", "b", "[Image sent]", at, "http://blob/x.png", "image")

	require.Equal(t, chat.MessageID(id.String()), msg.ID)
	require.Equal(t, chat.KindImage, msg.AttachmentType)
	require.Equal(t, time.UTC, msg.CreatedAt.Location())
	require.True(t, msg.CreatedAt.Equal(at))
}

func TestStore_NilSession(t *testing.T) {
	s := NewStore(nil, nil)
	_, err := s.Append(context.Background(), chat.Message{SenderID: "a", ReceiverID: "b"})
	require.ErrorIs(t, err, errNoSession)
	_, err = s.HasMessage(context.Background(), "a", "b")
	require.ErrorIs(t, err, errNoSession)
}

// Runs against a live cluster when SCYLLA_TEST_HOSTS is set.
func TestStore_Integration(t *testing.T) {
	hosts := os.Getenv("SCYLLA_TEST_HOSTS")
	if hosts == "" {
		t.Skip("SCYLLA_TEST_HOSTS not set")
	}
	req := require.New(t)
	ctx := context.Background()

	session, err := NewSession(ctx, config.Config{
		ScyllaHosts:       strings.Split(hosts, ","),
		ScyllaKeyspace:    "peerchat_test",
		ScyllaConsistency: "one",
		ScyllaTimeout:     10 * time.Second,
		ScyllaReplication: 1,
	}, nil)
	req.NoError(err)
	defer session.Close()
	store := NewStore(session, nil)

	a := chat.UserID("a-" + uuid.NewString())
	b := chat.UserID("b-" + uuid.NewString())

	first, err := store.Append(ctx, chat.Message{SenderID: a, ReceiverID: b, Content: "hi"})
	req.NoError(err)
	second, err := store.Append(ctx, chat.Message{SenderID: b, ReceiverID: a, Content: "yo"})
	req.NoError(err)

	thread, err := store.Query(ctx, a, b, nil)
	req.NoError(err)
	req.Equal([]chat.MessageID{first.ID, second.ID}, []chat.MessageID{thread[0].ID, thread[1].ID})

	ok, err := store.HasMessage(ctx, a, b)
	req.NoError(err)
	req.True(ok)

	listed, err := store.ListForUser(ctx, a)
	req.NoError(err)
	req.Len(listed, 2)

	req.NoError(store.MarkRead(ctx, a, b, second.CreatedAt))
	req.NoError(store.MarkRead(ctx, a, b, first.CreatedAt))
	markers, err := store.ReadMarkers(ctx, a)
	req.NoError(err)
	req.True(markers[b].Equal(second.CreatedAt))
}
