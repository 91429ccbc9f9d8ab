package realtime

import (
	"context"

	"peerchat/internal/domain/chat"
)

// Publisher announces committed messages on the change feed.
type Publisher interface {
	Publish(ctx context.Context, msg chat.Message) error
}

// Feed opens per-user subscriptions to "message inserted" frames.
type Feed interface {
	Subscribe(ctx context.Context, user chat.UserID) (Subscription, error)
}

// Subscription is a live stream of raw envelope frames.
//
// Frames is closed when the subscription ends. Err then reports why: nil after Close,
// chat.ErrSubscriptionDropped (possibly wrapped) when the backend gave up on the subscriber.
// Close is idempotent.
type Subscription interface {
	Frames() <-chan []byte
	Err() error
	Close() error
}

// Filter narrows decoded messages.
type Filter func(chat.Message) bool

// PairFilter keeps messages exchanged between a and b.
func PairFilter(a, b chat.UserID) Filter {
	return func(m chat.Message) bool { return m.Between(a, b) }
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg chat.Message) error

func (f PublisherFunc) Publish(ctx context.Context, msg chat.Message) error {
	return f(ctx, msg)
}

// MultiPublisher publishes to every target and returns the first error.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(ctx context.Context, msg chat.Message) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
