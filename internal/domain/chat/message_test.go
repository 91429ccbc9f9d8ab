package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyMIME(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
		want     AttachmentKind
	}{
		{"png", "image/png", KindImage},
		{"jpeg with params", "image/jpeg; q=0.9", KindImage},
		{"upper case", "IMAGE/GIF", KindImage},
		{"mp4", "video/mp4", KindVideo},
		{"ogg audio", "audio/ogg", KindAudio},
		{"pdf", "application/pdf", KindFile},
		{"text", "text/plain", KindFile},
		{"empty", "", KindFile},
		{"prefix only inside", "application/x-image/png", KindFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ClassifyMIME(tt.mimeType))
		})
	}
}

func TestPlaceholder(t *testing.T) {
	req := require.New(t)
	req.Equal("[Image sent]", Placeholder(KindImage))
	req.Equal("[Video sent]", Placeholder(KindVideo))
	req.Equal("[Audio sent]", Placeholder(KindAudio))
	req.Equal("[File sent]", Placeholder(KindFile))
}

func TestMessage_Counterpart(t *testing.T) {
	req := require.New(t)
	msg := Message{SenderID: "a", ReceiverID: "b"}
	req.Equal(UserID("b"), msg.Counterpart("a"))
	req.Equal(UserID("a"), msg.Counterpart("b"))

	self := Message{SenderID: "a", ReceiverID: "a"}
	req.Equal(UserID("a"), self.Counterpart("a"))
	req.True(self.Between("a", "a"))
}

func TestMessage_Before_TiesBrokenByID(t *testing.T) {
	req := require.New(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	first := Message{ID: "01", CreatedAt: at}
	second := Message{ID: "02", CreatedAt: at}
	later := Message{ID: "00", CreatedAt: at.Add(time.Millisecond)}

	req.True(first.Before(second))
	req.False(second.Before(first))
	req.True(second.Before(later))
}

func TestPairKey_IsOrderIndependent(t *testing.T) {
	require.Equal(t, PairKey("alice", "bob"), PairKey("bob", "alice"))
}
