package ginserver

import (
	"errors"
	"log/slog"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"peerchat/internal/app/middleware"
	"peerchat/internal/domain/chat"
)

// respondError maps the error taxonomy to a status. Retryable send failures carry
// retryable=true so the client can offer a resend.
func respondError(c *gin.Context, logger *slog.Logger, err error, action string, attrs ...any) {
	status, retryable := classify(err)
	if logger != nil {
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, action+" failed", append(attrs, "error", err, "status", status)...)
	}
	body := gin.H{"error": err.Error()}
	if retryable {
		body["retryable"] = true
	}
	c.JSON(status, body)
}

func classify(err error) (int, bool) {
	switch {
	case errors.Is(err, middleware.ErrUnauthenticated):
		return http.StatusUnauthorized, false
	case errors.Is(err, middleware.ErrForbidden):
		return http.StatusForbidden, false
	case errors.Is(err, chat.ErrAttachmentTooLarge):
		return http.StatusRequestEntityTooLarge, false
	case errors.Is(err, middleware.ErrValidation),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, chat.ErrEmptyAttachment),
		errors.Is(err, chat.ErrParticipantRequired):
		return http.StatusBadRequest, false
	case errors.Is(err, chat.ErrUserNotFound):
		return http.StatusNotFound, false
	case errors.Is(err, chat.ErrAttachmentUploadFailed),
		errors.Is(err, chat.ErrStoreWriteFailed):
		return http.StatusBadGateway, true
	default:
		return http.StatusInternalServerError, false
	}
}
