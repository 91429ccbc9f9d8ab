package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"peerchat/internal/app/middleware"
	"peerchat/internal/domain/chat"
)

const (
	principalHeader     = "X-User-ID"
	principalContextKey = "peerchat.principal"
)

// PrincipalMiddleware trusts the user id set by the upstream gateway.
type PrincipalMiddleware struct {
	Logger *slog.Logger
}

func (m PrincipalMiddleware) Handle(c *gin.Context) {
	id := strings.TrimSpace(c.GetHeader(principalHeader))
	if id == "" {
		// browsers cannot set headers on websocket upgrades
		id = strings.TrimSpace(c.Query("user_id"))
	}
	if id == "" {
		if m.Logger != nil {
			m.Logger.Debug("request without principal", "path", c.FullPath())
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return
	}
	user := chat.UserID(id)
	c.Set(principalContextKey, user)
	c.Request = c.Request.WithContext(middleware.WithPrincipal(c.Request.Context(), user))
	c.Next()
}

func currentPrincipal(c *gin.Context) (chat.UserID, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return "", false
	}
	id, ok := val.(chat.UserID)
	return id, ok && id != ""
}

func requirePrincipal(c *gin.Context) (chat.UserID, bool) {
	id, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return "", false
	}
	return id, true
}

// requirePeer reads the :peer path parameter.
func requirePeer(c *gin.Context) (chat.UserID, bool) {
	peer := strings.TrimSpace(c.Param("peer"))
	if peer == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "peer id is required"})
		return "", false
	}
	return chat.UserID(peer), true
}
