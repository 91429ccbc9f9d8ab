package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	appoutbox "peerchat/internal/app/outbox"
)

func TestOutbox_ClaimLifecycle(t *testing.T) {
	req := require.New(t)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	box := NewOutbox()
	box.now = func() time.Time { return now }
	ctx := context.Background()

	rec, err := appoutbox.NewRecord("chat.notification", "m1", map[string]string{"k": "v"}, now)
	req.NoError(err)
	req.NoError(box.Add(ctx, rec))

	doc, err := box.Claim(ctx, "w1")
	req.NoError(err)
	req.NotNil(doc)
	req.Equal("w1", doc.ClaimedBy)

	again, err := box.Claim(ctx, "w2")
	req.NoError(err)
	req.Nil(again)

	req.NoError(box.MarkFailed(ctx, doc.ID, now.Add(time.Minute), "broker down"))
	notYet, err := box.Claim(ctx, "w1")
	req.NoError(err)
	req.Nil(notYet)

	now = now.Add(2 * time.Minute)
	retry, err := box.Claim(ctx, "w1")
	req.NoError(err)
	req.Equal(1, retry.Attempts)

	req.NoError(box.MarkSent(ctx, retry.ID))
	req.Equal(appoutbox.StateSent, box.Documents()[0].State)
	req.ErrorIs(box.MarkSent(ctx, "missing"), ErrOutboxRecordNotFound)
}
