package ginserver

import (
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"peerchat/internal/app/dto"
	reviewsapp "peerchat/internal/app/handlers/reviews"
	"peerchat/internal/app/queries"
)

// ReviewsHandler answers whether the principal may review :peer.
type ReviewsHandler struct {
	Queries queries.Bus
	Logger  *slog.Logger
}

func (h ReviewsHandler) Eligibility(c *gin.Context) {
	from, ok := requirePrincipal(c)
	if !ok {
		return
	}
	to, ok := requirePeer(c)
	if !ok {
		return
	}
	result, err := queries.Ask[reviewsapp.CanReviewQuery, dto.ReviewEligibility](
		c.Request.Context(), h.Queries, reviewsapp.CanReviewQuery{FromUserID: from, ToUserID: to})
	if err != nil {
		respondError(c, h.Logger, err, "review eligibility", "sender_id", from, "receiver_id", to)
		return
	}
	c.JSON(http.StatusOK, result)
}

var _ ReviewsHTTP = ReviewsHandler{}
