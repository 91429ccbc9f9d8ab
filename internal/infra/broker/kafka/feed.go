package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

// MessagesTopic carries committed message inserts between replicas.
const MessagesTopic = "chat.messages.v1"

type publisher interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// FeedPublisher writes insert envelopes keyed by participant pair, so a pair's
// events stay ordered within one partition.
type FeedPublisher struct {
	Producer publisher
	Topic    string
}

func (p FeedPublisher) Publish(ctx context.Context, msg chat.Message) error {
	frame, err := realtime.EncodeInsert(msg)
	if err != nil {
		return err
	}
	topic := p.Topic
	if topic == "" {
		topic = MessagesTopic
	}
	headers := map[string]string{
		"event_type": realtime.TypeMessageInserted,
		"message_id": string(msg.ID),
	}
	if err := p.Producer.Publish(ctx, topic, chat.PairKey(msg.SenderID, msg.ReceiverID), frame, headers); err != nil {
		return fmt.Errorf("kafka: publish insert: %w", err)
	}
	return nil
}

// Broadcaster fans a raw frame out to local subscribers.
type Broadcaster interface {
	Broadcast(sender, receiver chat.UserID, frame []byte) int
}

// Relay feeds records from MessagesTopic into the local hub. Malformed records
// are logged and acknowledged so they never block the partition.
type Relay struct {
	Hub    Broadcaster
	Logger *slog.Logger
}

func (r Relay) Handle(_ context.Context, msg *sarama.ConsumerMessage) error {
	env, err := realtime.ParseEnvelope(msg.Value)
	if err != nil {
		metrics.FeedEventsDropped.WithLabelValues("invalid").Inc()
		if r.Logger != nil {
			r.Logger.Warn("dropping malformed feed record", "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		return nil
	}
	delivered := r.Hub.Broadcast(chat.UserID(env.SenderID), chat.UserID(env.ReceiverID), msg.Value)
	if r.Logger != nil {
		r.Logger.Debug("feed record relayed", "sender_id", env.SenderID, "receiver_id", env.ReceiverID, "subscribers", delivered)
	}
	return nil
}

var (
	_ realtime.Publisher = FeedPublisher{}
	_ MessageHandler     = Relay{}
)
