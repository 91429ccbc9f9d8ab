package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/require"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
)

type record struct {
	topic   string
	key     string
	payload []byte
	headers map[string]string
}

type fakeProducer struct {
	records []record
	err     error
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, record{topic: topic, key: key, payload: payload, headers: headers})
	return nil
}

type fakeHub struct {
	frames [][]byte
	pairs  [][2]chat.UserID
}

func (h *fakeHub) Broadcast(sender, receiver chat.UserID, frame []byte) int {
	h.frames = append(h.frames, frame)
	h.pairs = append(h.pairs, [2]chat.UserID{sender, receiver})
	return 1
}

func sampleMessage() chat.Message {
	return chat.Message{
		ID:         "m1",
		SenderID:   "bob",
		ReceiverID: "alice",
		Content:    "hi",
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestFeedPublisher_KeysByPair(t *testing.T) {
	req := require.New(t)
	producer := &fakeProducer{}
	pub := FeedPublisher{Producer: producer, Topic: "dev." + MessagesTopic}

	req.NoError(pub.Publish(context.Background(), sampleMessage()))

	req.Len(producer.records, 1)
	rec := producer.records[0]
	req.Equal("dev.chat.messages.v1", rec.topic)
	req.Equal(chat.PairKey("alice", "bob"), rec.key)
	req.Equal(realtime.TypeMessageInserted, rec.headers["event_type"])

	decoded, err := realtime.Decode(rec.payload)
	req.NoError(err)
	req.Equal(chat.MessageID("m1"), decoded.ID)
}

func TestFeedPublisher_WrapsProducerError(t *testing.T) {
	pub := FeedPublisher{Producer: &fakeProducer{err: errors.New("broker down")}}
	err := pub.Publish(context.Background(), sampleMessage())
	require.ErrorContains(t, err, "broker down")
}

func TestRelay_BroadcastsValidFrames(t *testing.T) {
	req := require.New(t)
	frame, err := realtime.EncodeInsert(sampleMessage())
	req.NoError(err)
	hub := &fakeHub{}

	req.NoError(Relay{Hub: hub}.Handle(context.Background(), &sarama.ConsumerMessage{Value: frame}))

	req.Len(hub.frames, 1)
	req.Equal(frame, hub.frames[0])
	req.Equal([2]chat.UserID{"bob", "alice"}, hub.pairs[0])
}

func TestRelay_AcknowledgesMalformedFrames(t *testing.T) {
	hub := &fakeHub{}
	err := Relay{Hub: hub}.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{not json")})
	require.NoError(t, err)
	require.Empty(t, hub.frames)
}

func TestClientID(t *testing.T) {
	require.Equal(t, "peerchat", clientID(""))
	require.Equal(t, "peerchat", clientID("sarama"))
	require.Equal(t, "relay-1", clientID("relay-1"))
}
