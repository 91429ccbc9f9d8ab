package memory

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

// MessageStore is an append-only in-memory message log for demo and tests.
// Ids are ULIDs derived from the assigned timestamp, so id order follows CreatedAt.
type MessageStore struct {
	mu       sync.RWMutex
	messages []chat.Message
	entropy  io.Reader
	last     time.Time
	now      func() time.Time
}

// NewMessageStore builds an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *MessageStore) WithClock(now func() time.Time) *MessageStore {
	s.now = now
	return s
}

// Append assigns id and a strictly increasing CreatedAt.
func (s *MessageStore) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	if !createdAt.After(s.last) {
		createdAt = s.last.Add(time.Microsecond)
	}
	id, err := ulid.New(ulid.Timestamp(createdAt), s.entropy)
	if err != nil {
		return chat.Message{}, err
	}
	s.last = createdAt
	msg.ID = chat.MessageID(id.String())
	msg.CreatedAt = createdAt
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *MessageStore) Query(ctx context.Context, a, b chat.UserID, since *time.Time) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if !m.Between(a, b) {
			continue
		}
		if since != nil && m.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *MessageStore) ListForUser(ctx context.Context, user chat.UserID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]chat.Message, 0)
	for _, m := range s.messages {
		if m.Involves(user) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MessageStore) HasMessage(ctx context.Context, from, to chat.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.messages {
		if m.SenderID == from && m.ReceiverID == to {
			return true, nil
		}
	}
	return false, nil
}

// ReadMarkers keeps per-conversation read positions in memory.
type ReadMarkers struct {
	mu      sync.RWMutex
	markers map[chat.UserID]map[chat.UserID]time.Time
}

func NewReadMarkers() *ReadMarkers {
	return &ReadMarkers{markers: make(map[chat.UserID]map[chat.UserID]time.Time)}
}

// MarkRead moves the marker forward; older positions are ignored.
func (r *ReadMarkers) MarkRead(ctx context.Context, viewer, counterpart chat.UserID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byViewer, ok := r.markers[viewer]
	if !ok {
		byViewer = make(map[chat.UserID]time.Time)
		r.markers[viewer] = byViewer
	}
	if current, ok := byViewer[counterpart]; ok && !at.After(current) {
		return nil
	}
	byViewer[counterpart] = at.UTC()
	return nil
}

func (r *ReadMarkers) ReadMarkers(ctx context.Context, viewer chat.UserID) (map[chat.UserID]time.Time, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[chat.UserID]time.Time, len(r.markers[viewer]))
	for k, v := range r.markers[viewer] {
		out[k] = v
	}
	return out, nil
}

var (
	_ policies.MessageStore = (*MessageStore)(nil)
	_ policies.ReadMarkers  = (*ReadMarkers)(nil)
)
