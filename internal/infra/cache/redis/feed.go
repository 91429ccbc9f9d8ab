package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const defaultBuffer = 64

// Feed is a change feed over Redis pub/sub with one channel per user.
type Feed struct {
	client *redis.Client
	logger *slog.Logger
	buffer int
}

func NewFeed(ctx context.Context, opts *redis.Options, logger *slog.Logger) (*Feed, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Feed{client: client, logger: logger, buffer: defaultBuffer}, nil
}

func (f *Feed) Close() error {
	return f.client.Close()
}

func (f *Feed) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func userChannel(user chat.UserID) string {
	return fmt.Sprintf("peerchat:user:%s", user)
}

// Publish sends the encoded insert to the channels of both participants.
func (f *Feed) Publish(ctx context.Context, msg chat.Message) error {
	frame, err := realtime.EncodeInsert(msg)
	if err != nil {
		return err
	}
	pipe := f.client.Pipeline()
	pipe.Publish(ctx, userChannel(msg.SenderID), frame)
	if msg.ReceiverID != msg.SenderID {
		pipe.Publish(ctx, userChannel(msg.ReceiverID), frame)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: publish insert: %w", err)
	}
	return nil
}

// Subscribe listens on the user's channel. A connection error ends the
// subscription so that the caller resubscribes and backfills.
func (f *Feed) Subscribe(ctx context.Context, user chat.UserID) (realtime.Subscription, error) {
	if user == "" {
		return nil, chat.ErrParticipantRequired
	}
	ps := f.client.Subscribe(ctx, userChannel(user))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		ps:     ps,
		cancel: cancel,
		frames: make(chan []byte, f.buffer),
		done:   make(chan struct{}),
	}
	go sub.run(runCtx, f.logger, user)
	return sub, nil
}

type subscription struct {
	ps     *redis.PubSub
	cancel context.CancelFunc
	frames chan []byte
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (s *subscription) run(ctx context.Context, logger *slog.Logger, user chat.UserID) {
	defer close(s.done)
	defer close(s.frames)
	defer s.ps.Close()

	for {
		msg, err := s.ps.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, redis.ErrClosed) {
				s.setErr(fmt.Errorf("%w: %v", chat.ErrSubscriptionDropped, err))
			}
			return
		}
		select {
		case s.frames <- []byte(msg.Payload):
		default:
			metrics.FeedEventsDropped.WithLabelValues("overflow").Inc()
			if logger != nil {
				logger.Warn("dropping slow change feed subscriber", "viewer_id", user)
			}
			s.setErr(fmt.Errorf("%w: subscriber buffer overflowed", chat.ErrSubscriptionDropped))
			return
		}
	}
}

func (s *subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *subscription) Frames() <-chan []byte { return s.frames }

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

var (
	_ realtime.Feed      = (*Feed)(nil)
	_ realtime.Publisher = (*Feed)(nil)
)
