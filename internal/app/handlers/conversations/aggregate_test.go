package conversations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerchat/internal/domain/chat"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func msg(id string, from, to chat.UserID, content string, offset time.Duration) chat.Message {
	return chat.Message{ID: chat.MessageID(id), SenderID: from, ReceiverID: to, Content: content, CreatedAt: t0.Add(offset)}
}

func TestAggregate_ExampleScenario(t *testing.T) {
	req := require.New(t)
	messages := []chat.Message{
		msg("1", "A", "B", "hi", 1*time.Minute),
		msg("2", "B", "A", "hey", 2*time.Minute),
		msg("3", "A", "C", "yo", 3*time.Minute),
	}

	got := Aggregate("A", messages, nil)

	req.Len(got, 2)
	req.Equal(chat.UserID("C"), got[0].CounterpartID)
	req.Equal("yo", got[0].LastMessage.Content)
	req.Equal(chat.UserID("B"), got[1].CounterpartID)
	req.Equal("hey", got[1].LastMessage.Content)
}

func TestAggregate_LatestWinsRegardlessOfInputOrder(t *testing.T) {
	req := require.New(t)
	messages := []chat.Message{
		msg("5", "B", "A", "newest", 5*time.Minute),
		msg("1", "A", "B", "oldest", 1*time.Minute),
		msg("3", "A", "B", "middle", 3*time.Minute),
	}

	got := Aggregate("A", messages, nil)

	req.Len(got, 1)
	req.Equal(chat.MessageID("5"), got[0].LastMessage.ID)
}

func TestAggregate_TiesBrokenByID(t *testing.T) {
	req := require.New(t)
	messages := []chat.Message{
		msg("a1", "A", "B", "to b", time.Minute),
		msg("a2", "C", "A", "from c", time.Minute),
	}

	got := Aggregate("A", messages, nil)

	req.Len(got, 2)
	req.Equal(chat.UserID("C"), got[0].CounterpartID)
	req.Equal(chat.UserID("B"), got[1].CounterpartID)

	// input order must not change the result
	reversed := Aggregate("A", []chat.Message{messages[1], messages[0]}, nil)
	req.Equal(got, reversed)
}

func TestAggregate_SelfConversationAndForeignMessages(t *testing.T) {
	req := require.New(t)
	messages := []chat.Message{
		msg("1", "A", "A", "note to self", time.Minute),
		msg("2", "B", "C", "not mine", 2*time.Minute),
	}

	got := Aggregate("A", messages, nil)

	req.Len(got, 1)
	req.Equal(chat.UserID("A"), got[0].CounterpartID)
	req.Zero(got[0].Unread)
}

func TestAggregate_UnreadRespectsReadMarkers(t *testing.T) {
	req := require.New(t)
	messages := []chat.Message{
		msg("1", "B", "A", "one", 1*time.Minute),
		msg("2", "B", "A", "two", 2*time.Minute),
		msg("3", "A", "B", "mine", 3*time.Minute),
		msg("4", "B", "A", "three", 4*time.Minute),
		msg("5", "C", "A", "hello", 5*time.Minute),
	}
	markers := map[chat.UserID]time.Time{"B": t0.Add(2 * time.Minute)}

	got := Aggregate("A", messages, markers)

	req.Len(got, 2)
	req.Equal(chat.UserID("C"), got[0].CounterpartID)
	req.Equal(1, got[0].Unread)
	req.Equal(chat.UserID("B"), got[1].CounterpartID)
	req.Equal(1, got[1].Unread)
}

func TestAggregate_Empty(t *testing.T) {
	require.Empty(t, Aggregate("A", nil, nil))
}
