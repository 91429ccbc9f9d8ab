package messages

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"peerchat/internal/app/dto"
	"peerchat/internal/app/policies"
	"peerchat/internal/app/queries"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const getThreadKey = "messages.thread"

// GetThreadQuery is the batch fetch of one conversation, oldest first.
type GetThreadQuery struct {
	ViewerID      chat.UserID `validate:"required"`
	CounterpartID chat.UserID `validate:"required"`
	Since         *time.Time
}

func (q GetThreadQuery) Key() string          { return getThreadKey }
func (q GetThreadQuery) ActorID() chat.UserID { return q.ViewerID }

type GetThreadHandler struct {
	Messages policies.MessageStore
	Identity policies.IdentityResolver
	Logger   *slog.Logger
}

func (h *GetThreadHandler) Handle(ctx context.Context, q GetThreadQuery) (dto.Thread, error) {
	thread, err := h.Messages.Query(ctx, q.ViewerID, q.CounterpartID, q.Since)
	if err != nil {
		return dto.Thread{}, err
	}

	counterpart := chat.UnknownProfile(q.CounterpartID)
	if h.Identity != nil {
		profile, err := h.Identity.Profile(ctx, q.CounterpartID)
		switch {
		case err == nil:
			counterpart = profile
		case errors.Is(err, chat.ErrUserNotFound):
		default:
			metrics.EnrichmentFailures.Inc()
			if h.Logger != nil {
				h.Logger.WarnContext(ctx, "thread enrichment failed", "counterpart_id", q.CounterpartID, "error", err)
			}
		}
	}
	return dto.Thread{
		Counterpart: dto.MapParticipant(counterpart),
		Messages:    dto.MapMessages(thread),
	}, nil
}

var _ queries.Handler[GetThreadQuery, dto.Thread] = (*GetThreadHandler)(nil)
