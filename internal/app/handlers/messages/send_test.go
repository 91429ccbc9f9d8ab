package messages

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"peerchat/internal/app/attachments"
	"peerchat/internal/app/policies"
	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/mocks"
)

var sentAt = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// assignIDs mimics the store: ids and timestamps come from the store, never the caller.
func assignIDs() func(context.Context, chat.Message) (chat.Message, error) {
	var mu sync.Mutex
	n := 0
	return func(_ context.Context, msg chat.Message) (chat.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		msg.ID = chat.MessageID(string(rune('a' + n - 1)))
		msg.CreatedAt = sentAt.Add(time.Duration(n) * time.Second)
		return msg, nil
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []chat.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg chat.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func TestSend_TextMessage(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	identity := mocks.NewMockIdentityResolver(ctrl)
	feed := &recordingPublisher{}

	store.EXPECT().Append(gomock.Any(), chat.Message{SenderID: "A", ReceiverID: "B", Content: "hi"}).DoAndReturn(assignIDs())
	identity.EXPECT().Profiles(gomock.Any(), []chat.UserID{"A", "B"}).Return(map[chat.UserID]chat.Profile{
		"A": {ID: "A", Name: "Ann"},
		"B": {ID: "B", Name: "Bob", Contact: "bob@example.com"},
	}, nil)
	notifier.EXPECT().Notify(gomock.Any(), policies.Notification{
		MessageID:         "a",
		ReceiverID:        "B",
		ReceiverContact:   "bob@example.com",
		SenderID:          "A",
		SenderDisplayName: "Ann",
		PreviewText:       "hi",
		DeepLink:          "https://app.example/chat/A",
	}).Return(nil)

	h := &SendMessageHandler{Messages: store, Feed: feed, Notifier: notifier, Identity: identity, DeepLinkBase: "https://app.example/chat/"}
	got, err := h.Handle(context.Background(), SendMessageCommand{SenderID: "A", ReceiverID: "B", Text: "  hi  "})
	h.Wait()

	req.NoError(err)
	req.Equal("a", got.ID)
	req.Equal("hi", got.Content)
	req.Len(feed.msgs, 1)
	req.Equal(chat.MessageID("a"), feed.msgs[0].ID)
}

func TestSend_AttachmentOnlyUsesPlaceholder(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	blobs := mocks.NewMockAttachmentStore(ctrl)

	blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), int64(4), "video/mp4", policies.PartitionMedia).Return("https://media/v.mp4", nil)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(assignIDs())

	h := &SendMessageHandler{Messages: store, Attachments: &attachments.Pipeline{Blobs: blobs}}
	got, err := h.Handle(context.Background(), SendMessageCommand{
		SenderID:   "A",
		ReceiverID: "B",
		Attachment: &Attachment{Payload: []byte("mp4!"), MIMEType: "video/mp4"},
	})

	req.NoError(err)
	req.Equal("[Video sent]", got.Content)
	req.Equal("https://media/v.mp4", got.AttachmentURL)
	req.Equal("video", got.AttachmentType)
}

func TestSend_UploadFailureAppendsNothing(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	blobs := mocks.NewMockAttachmentStore(ctrl)

	blobs.EXPECT().Put(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("bucket offline"))
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Times(0)

	h := &SendMessageHandler{Messages: store, Attachments: &attachments.Pipeline{Blobs: blobs}}
	_, err := h.Handle(context.Background(), SendMessageCommand{
		SenderID:   "A",
		ReceiverID: "B",
		Text:       "look",
		Attachment: &Attachment{Payload: []byte("img"), MIMEType: "image/png"},
	})

	req.ErrorIs(err, chat.ErrAttachmentUploadFailed)
}

func TestSend_RejectsEmptyMessage(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	h := &SendMessageHandler{Messages: store}

	_, err := h.Handle(context.Background(), SendMessageCommand{SenderID: "A", ReceiverID: "B", Text: "   "})
	require.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, err = h.Handle(context.Background(), SendMessageCommand{SenderID: "A", ReceiverID: "B", Attachment: &Attachment{}})
	require.ErrorIs(t, err, chat.ErrEmptyMessage)
}

func TestSend_StoreFailureIsTyped(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).Return(chat.Message{}, errors.New("disk full"))
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Times(0)

	h := &SendMessageHandler{Messages: store, Notifier: notifier}
	_, err := h.Handle(context.Background(), SendMessageCommand{SenderID: "A", ReceiverID: "B", Text: "hi"})
	h.Wait()

	require.ErrorIs(t, err, chat.ErrStoreWriteFailed)
}

func TestSend_IsNotIdempotent(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(assignIDs()).Times(2)

	h := &SendMessageHandler{Messages: store}
	cmd := SendMessageCommand{SenderID: "A", ReceiverID: "B", Text: "hi"}
	first, err := h.Handle(context.Background(), cmd)
	req.NoError(err)
	second, err := h.Handle(context.Background(), cmd)
	req.NoError(err)
	req.NotEqual(first.ID, second.ID)
}

func TestSend_SelfMessageIsAllowed(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(assignIDs())

	h := &SendMessageHandler{Messages: store}
	got, err := h.Handle(context.Background(), SendMessageCommand{SenderID: "A", ReceiverID: "A", Text: "memo"})
	require.NoError(t, err)
	require.Equal(t, got.SenderID, got.ReceiverID)
}

func TestSend_SideEffectFailuresDoNotFailTheSend(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	identity := mocks.NewMockIdentityResolver(ctrl)
	feed := &recordingPublisher{err: errors.New("broker down")}

	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(assignIDs())
	identity.EXPECT().Profiles(gomock.Any(), gomock.Any()).Return(nil, errors.New("profiles down"))
	var delivered policies.Notification
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, n policies.Notification) error {
		delivered = n
		return errors.New("smtp down")
	})

	h := &SendMessageHandler{Messages: store, Feed: realtime.MultiPublisher{feed}, Notifier: notifier, Identity: identity}
	got, err := h.Handle(context.Background(), SendMessageCommand{SenderID: "A", ReceiverID: "B", Text: "hi"})
	h.Wait()

	req.NoError(err)
	req.Equal("a", got.ID)
	req.Equal(chat.UnknownUserName, delivered.SenderDisplayName)
}

func TestSend_NotificationOutlivesRequestContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockMessageStore(ctrl)
	notifier := mocks.NewMockNotifier(ctrl)
	store.EXPECT().Append(gomock.Any(), gomock.Any()).DoAndReturn(assignIDs())

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	var notifyCtxErr error
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(func(nctx context.Context, _ policies.Notification) error {
		<-release
		notifyCtxErr = nctx.Err()
		return nil
	})

	h := &SendMessageHandler{Messages: store, Notifier: notifier}
	_, err := h.Handle(ctx, SendMessageCommand{SenderID: "A", ReceiverID: "B", Text: "hi"})
	require.NoError(t, err)

	cancel()
	close(release)
	h.Wait()
	require.NoError(t, notifyCtxErr)
}

func TestPreview_TruncatesLongContent(t *testing.T) {
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'ж'
	}
	got := []rune(preview(string(long)))
	require.Len(t, got, previewRunes)
	require.Equal(t, '…', got[len(got)-1])
}
