package conversations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"

	"peerchat/internal/app/dto"
	"peerchat/internal/app/policies"
	"peerchat/internal/app/queries"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const listConversationsKey = "conversations.list"

// ListConversationsQuery derives the conversation list of a viewer.
type ListConversationsQuery struct {
	ViewerID chat.UserID `validate:"required"`
}

func (q ListConversationsQuery) Key() string          { return listConversationsKey }
func (q ListConversationsQuery) ActorID() chat.UserID { return q.ViewerID }

// ListConversationsHandler aggregates the message log and enriches counterparts best-effort.
type ListConversationsHandler struct {
	Messages policies.MessageStore
	Reads    policies.ReadMarkers
	Identity policies.IdentityResolver
	Logger   *slog.Logger
}

func (h *ListConversationsHandler) Handle(ctx context.Context, q ListConversationsQuery) (dto.ConversationList, error) {
	messages, err := h.Messages.ListForUser(ctx, q.ViewerID)
	if err != nil {
		return dto.ConversationList{}, err
	}

	var (
		markers    map[chat.UserID]time.Time
		markersErr error
	)
	if h.Reads != nil {
		markers, markersErr = h.Reads.ReadMarkers(ctx, q.ViewerID)
		if markersErr != nil {
			// unknown read positions report zero unread rather than the whole history
			h.warn(ctx, "read markers unavailable", "viewer_id", q.ViewerID, "error", markersErr)
			markers = nil
		}
	}

	summaries := Aggregate(q.ViewerID, messages, markers)
	ids := lo.Map(summaries, func(s Summary, _ int) chat.UserID { return s.CounterpartID })

	list := dto.ConversationList{Items: make([]dto.Conversation, 0, len(summaries))}
	var warnings []string
	if markersErr != nil {
		warnings = append(warnings, "read markers unavailable: "+markersErr.Error())
	}
	profiles, enrichErr := h.profiles(ctx, ids)
	if enrichErr != nil {
		metrics.EnrichmentFailures.Inc()
		warnings = append(warnings, enrichErr.Error())
		h.warn(ctx, "conversation enrichment degraded", "viewer_id", q.ViewerID, "error", enrichErr)
	}
	if len(warnings) > 0 {
		list.Degraded = true
		list.Warning = strings.Join(warnings, "; ")
	}

	for _, s := range summaries {
		if markersErr != nil {
			s.Unread = 0
		}
		profile, ok := profiles[s.CounterpartID]
		if !ok {
			profile = chat.UnknownProfile(s.CounterpartID)
		}
		list.Items = append(list.Items, dto.MapConversation(chat.Conversation{
			Counterpart: profile,
			LastMessage: s.LastMessage,
			UnreadCount: s.Unread,
		}))
	}
	return list, nil
}

func (h *ListConversationsHandler) profiles(ctx context.Context, ids []chat.UserID) (map[chat.UserID]chat.Profile, error) {
	if len(ids) == 0 {
		return map[chat.UserID]chat.Profile{}, nil
	}
	if h.Identity == nil {
		return map[chat.UserID]chat.Profile{}, fmt.Errorf("%w: identity collaborator not configured", chat.ErrEnrichmentFailed)
	}
	profiles, err := h.Identity.Profiles(ctx, lo.Uniq(ids))
	if err != nil {
		return map[chat.UserID]chat.Profile{}, fmt.Errorf("%w: %v", chat.ErrEnrichmentFailed, err)
	}
	if profiles == nil {
		profiles = map[chat.UserID]chat.Profile{}
	}
	return profiles, nil
}

func (h *ListConversationsHandler) warn(ctx context.Context, msg string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.WarnContext(ctx, msg, attrs...)
	}
}

var _ queries.Handler[ListConversationsQuery, dto.ConversationList] = (*ListConversationsHandler)(nil)
