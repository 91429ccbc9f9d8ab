package reviews

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"peerchat/internal/app/dto"
	"peerchat/internal/app/policies"
	"peerchat/internal/app/queries"
	"peerchat/internal/domain/chat"
)

const canReviewKey = "reviews.can_review"

// CanReviewQuery asks whether FromUserID may review ToUserID.
type CanReviewQuery struct {
	FromUserID chat.UserID `validate:"required"`
	ToUserID   chat.UserID `validate:"required"`
}

func (q CanReviewQuery) Key() string          { return canReviewKey }
func (q CanReviewQuery) ActorID() chat.UserID { return q.FromUserID }

// CanReviewHandler grants eligibility only when both users have written to each other.
// Uniqueness of reviews per ordered pair is enforced by the review store, not here.
type CanReviewHandler struct {
	Messages policies.MessageStore
	Logger   *slog.Logger
}

func (h *CanReviewHandler) Handle(ctx context.Context, q CanReviewQuery) (dto.ReviewEligibility, error) {
	result := dto.ReviewEligibility{FromUserID: string(q.FromUserID), ToUserID: string(q.ToUserID)}
	if q.FromUserID == q.ToUserID {
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sent, err := h.Messages.HasMessage(gctx, q.FromUserID, q.ToUserID)
		result.Sent = sent
		return err
	})
	g.Go(func() error {
		received, err := h.Messages.HasMessage(gctx, q.ToUserID, q.FromUserID)
		result.Received = received
		return err
	})
	if err := g.Wait(); err != nil {
		return dto.ReviewEligibility{}, err
	}
	result.Eligible = result.Sent && result.Received

	if h.Logger != nil {
		h.Logger.DebugContext(ctx, "review eligibility checked", "sender_id", q.FromUserID, "receiver_id", q.ToUserID, "eligible", result.Eligible)
	}
	return result, nil
}

// CanReview is the boolean form used outside the bus.
func (h *CanReviewHandler) CanReview(ctx context.Context, a, b chat.UserID) (bool, error) {
	res, err := h.Handle(ctx, CanReviewQuery{FromUserID: a, ToUserID: b})
	return res.Eligible, err
}

var _ queries.Handler[CanReviewQuery, dto.ReviewEligibility] = (*CanReviewHandler)(nil)
