package conversations

import (
	"slices"
	"time"

	"peerchat/internal/domain/chat"
)

// Summary is the per-counterpart reduction of the message log, before identity enrichment.
type Summary struct {
	CounterpartID chat.UserID
	LastMessage   chat.Message
	Unread        int
}

// Aggregate groups the viewer's messages by counterpart and keeps the most recent one per group.
//
// Messages are walked once, newest first; the first message seen for a counterpart is its
// last message, so the result is already ordered by LastMessage.CreatedAt descending with ties
// broken by descending id. Messages the viewer is not part of are ignored. Unread counts
// messages from the counterpart newer than the viewer's read marker for that counterpart.
func Aggregate(viewer chat.UserID, messages []chat.Message, readMarkers map[chat.UserID]time.Time) []Summary {
	ordered := slices.Clone(messages)
	slices.SortFunc(ordered, func(a, b chat.Message) int {
		switch {
		case b.Before(a):
			return -1
		case a.Before(b):
			return 1
		default:
			return 0
		}
	})

	index := make(map[chat.UserID]int)
	out := make([]Summary, 0)
	for _, msg := range ordered {
		if !msg.Involves(viewer) {
			continue
		}
		counterpart := msg.Counterpart(viewer)
		pos, seen := index[counterpart]
		if !seen {
			pos = len(out)
			index[counterpart] = pos
			out = append(out, Summary{CounterpartID: counterpart, LastMessage: msg})
		}
		if counterpart != viewer && msg.SenderID == counterpart && msg.CreatedAt.After(readMarkers[counterpart]) {
			out[pos].Unread++
		}
	}
	return out
}
