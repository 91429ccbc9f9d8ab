package realtime

import (
	"sort"

	"peerchat/internal/domain/chat"
)

// Timeline is the merged, deduplicated message list of one open conversation.
// It is ordered by (CreatedAt, ID) and holds every id at most once. Not safe for
// concurrent use; Session serializes access.
type Timeline struct {
	messages []chat.Message
	ids      map[chat.MessageID]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{ids: make(map[chat.MessageID]struct{})}
}

// Add inserts msg unless its id is already held. Appends are the common case; a message
// that arrives behind newer ones is placed by CreatedAt.
func (t *Timeline) Add(msg chat.Message) bool {
	if _, ok := t.ids[msg.ID]; ok {
		return false
	}
	t.ids[msg.ID] = struct{}{}

	n := len(t.messages)
	if n == 0 || t.messages[n-1].Before(msg) {
		t.messages = append(t.messages, msg)
		return true
	}
	pos := sort.Search(n, func(i int) bool { return msg.Before(t.messages[i]) })
	t.messages = append(t.messages, chat.Message{})
	copy(t.messages[pos+1:], t.messages[pos:])
	t.messages[pos] = msg
	return true
}

// Merge adds every message of batch not already held and returns how many were added.
func (t *Timeline) Merge(batch []chat.Message) int {
	added := 0
	for _, msg := range batch {
		if t.Add(msg) {
			added++
		}
	}
	return added
}

func (t *Timeline) Contains(id chat.MessageID) bool {
	_, ok := t.ids[id]
	return ok
}

func (t *Timeline) Len() int {
	return len(t.messages)
}

// Last returns the newest message.
func (t *Timeline) Last() (chat.Message, bool) {
	if len(t.messages) == 0 {
		return chat.Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// Messages returns a copy of the ordered list.
func (t *Timeline) Messages() []chat.Message {
	out := make([]chat.Message, len(t.messages))
	copy(out, t.messages)
	return out
}
