package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/internal/domain/chat"
)

type fakeSub struct {
	frames chan []byte
	once   sync.Once
	mu     sync.Mutex
	err    error
	closed chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{frames: make(chan []byte, 32), closed: make(chan struct{})}
}

func (f *fakeSub) Frames() <-chan []byte { return f.frames }

func (f *fakeSub) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSub) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSub) drop(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	close(f.frames)
}

func (f *fakeSub) push(t *testing.T, msg chat.Message) {
	t.Helper()
	frame, err := EncodeInsert(msg)
	require.NoError(t, err)
	f.frames <- frame
}

type fakeFeed struct {
	mu   sync.Mutex
	subs []*fakeSub
}

func (f *fakeFeed) Subscribe(_ context.Context, _ chat.UserID) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := newFakeSub()
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeFeed) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *fakeFeed) latest() *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[len(f.subs)-1]
}

var base = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func message(id string, from, to chat.UserID, offset time.Duration) chat.Message {
	return chat.Message{
		ID:         chat.MessageID(id),
		SenderID:   from,
		ReceiverID: to,
		Content:    "msg " + id,
		CreatedAt:  base.Add(offset),
	}
}

func ids(messages []chat.Message) []chat.MessageID {
	out := make([]chat.MessageID, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}
