package conversations

import (
	"context"
	"log/slog"
	"time"

	"peerchat/internal/app/commands"
	"peerchat/internal/app/dto"
	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

const markReadKey = "conversations.mark_read"

// MarkReadCommand moves the viewer's read marker for a conversation forward.
// A zero At marks up to the newest message of the thread.
type MarkReadCommand struct {
	ViewerID      chat.UserID `validate:"required"`
	CounterpartID chat.UserID `validate:"required"`
	At            time.Time
}

func (c MarkReadCommand) Key() string          { return markReadKey }
func (c MarkReadCommand) ActorID() chat.UserID { return c.ViewerID }

type MarkReadHandler struct {
	Messages policies.MessageStore
	Reads    policies.ReadMarkers
	Logger   *slog.Logger
	Now      func() time.Time
}

func (h *MarkReadHandler) Handle(ctx context.Context, cmd MarkReadCommand) (dto.ReadReceipt, error) {
	at := cmd.At
	if at.IsZero() {
		thread, err := h.Messages.Query(ctx, cmd.ViewerID, cmd.CounterpartID, nil)
		if err != nil {
			return dto.ReadReceipt{}, err
		}
		if len(thread) > 0 {
			at = thread[len(thread)-1].CreatedAt
		} else {
			at = h.now()
		}
	}
	if err := h.Reads.MarkRead(ctx, cmd.ViewerID, cmd.CounterpartID, at); err != nil {
		return dto.ReadReceipt{}, err
	}
	if h.Logger != nil {
		h.Logger.Debug("conversation marked read", "viewer_id", cmd.ViewerID, "counterpart_id", cmd.CounterpartID, "read_at", at)
	}
	return dto.ReadReceipt{CounterpartID: string(cmd.CounterpartID), ReadAt: at}, nil
}

func (h *MarkReadHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now().UTC()
}

var _ commands.Handler[MarkReadCommand, dto.ReadReceipt] = (*MarkReadHandler)(nil)
