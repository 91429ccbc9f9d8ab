package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const defaultHubBuffer = 64

// Hub is the in-process change feed. Every subscriber owns a buffered channel; a
// subscriber that falls a full buffer behind is dropped and has to resync.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chat.UserID]map[*hubSubscription]struct{}
	buffer int
	logger *slog.Logger
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	return &Hub{
		subs:   make(map[chat.UserID]map[*hubSubscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Publish encodes msg and fans it out to both participants.
func (h *Hub) Publish(ctx context.Context, msg chat.Message) error {
	frame, err := realtime.EncodeInsert(msg)
	if err != nil {
		return err
	}
	h.Broadcast(msg.SenderID, msg.ReceiverID, frame)
	return nil
}

// Broadcast delivers an already encoded frame and returns the number of subscribers reached.
func (h *Hub) Broadcast(sender, receiver chat.UserID, frame []byte) int {
	var overflowed []*hubSubscription
	delivered := 0

	h.mu.RLock()
	seen := make(map[*hubSubscription]struct{})
	for _, user := range []chat.UserID{sender, receiver} {
		for sub := range h.subs[user] {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			select {
			case sub.frames <- frame:
				delivered++
			default:
				overflowed = append(overflowed, sub)
			}
		}
	}
	h.mu.RUnlock()

	for _, sub := range overflowed {
		metrics.FeedEventsDropped.WithLabelValues("overflow").Inc()
		if h.logger != nil {
			h.logger.Warn("dropping slow change feed subscriber", "viewer_id", sub.user, "buffer", h.buffer)
		}
		h.remove(sub, fmt.Errorf("%w: buffer of %d frames overflowed", chat.ErrSubscriptionDropped, h.buffer))
	}
	return delivered
}

// Subscribe registers a subscriber for user. The subscription ends with ctx.
func (h *Hub) Subscribe(ctx context.Context, user chat.UserID) (realtime.Subscription, error) {
	if user == "" {
		return nil, chat.ErrParticipantRequired
	}
	sub := &hubSubscription{
		hub:    h,
		user:   user,
		frames: make(chan []byte, h.buffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	set, ok := h.subs[user]
	if !ok {
		set = make(map[*hubSubscription]struct{})
		h.subs[user] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Subscribers reports the live subscriptions of user.
func (h *Hub) Subscribers(user chat.UserID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[user])
}

func (h *Hub) remove(sub *hubSubscription, cause error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[sub.user]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, sub.user)
	}
	sub.mu.Lock()
	sub.err = cause
	sub.mu.Unlock()
	close(sub.frames)
	close(sub.done)
}

type hubSubscription struct {
	hub    *Hub
	user   chat.UserID
	frames chan []byte
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *hubSubscription) Frames() <-chan []byte { return s.frames }

func (s *hubSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *hubSubscription) Close() error {
	s.hub.remove(s, nil)
	return nil
}

var (
	_ realtime.Feed      = (*Hub)(nil)
	_ realtime.Publisher = (*Hub)(nil)
)
