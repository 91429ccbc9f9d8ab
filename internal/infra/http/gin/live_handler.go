package ginserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// LiveHandler streams change-feed envelopes of one conversation over a websocket.
// When the feed drops the subscription the socket is closed with 1013 so the
// client resubscribes and backfills.
type LiveHandler struct {
	Feed         realtime.Feed
	Logger       *slog.Logger
	PingInterval time.Duration
}

func (h LiveHandler) Stream(c *gin.Context) {
	viewer, ok := requirePrincipal(c)
	if !ok {
		return
	}
	peer, ok := requirePeer(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// subscribe before upgrading so a feed failure is still a plain HTTP error
	sub, err := h.Feed.Subscribe(ctx, viewer)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("live subscribe failed", "viewer_id", viewer, "error", err)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "change feed unavailable"})
		return
	}
	defer sub.Close()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Debug("websocket upgrade failed", "error", err)
		}
		return
	}
	defer conn.Close()

	go h.readPump(conn, cancel)
	h.writePump(ctx, conn, sub, viewer, peer)
}

// readPump only drains control frames; a read error means the client went away.
func (h LiveHandler) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h LiveHandler) writePump(ctx context.Context, conn *websocket.Conn, sub realtime.Subscription, viewer, peer chat.UserID) {
	interval := h.PingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeSocket(conn, websocket.CloseNormalClosure, "")
			return
		case frame, ok := <-sub.Frames():
			if !ok {
				if err := sub.Err(); err != nil {
					if h.Logger != nil {
						h.Logger.Warn("live subscription dropped", "viewer_id", viewer, "counterpart_id", peer, "error", err)
					}
					closeSocket(conn, websocket.CloseTryAgainLater, "subscription dropped")
					return
				}
				closeSocket(conn, websocket.CloseNormalClosure, "")
				return
			}
			env, err := realtime.ParseEnvelope(frame)
			if err != nil {
				metrics.FeedEventsDropped.WithLabelValues("invalid").Inc()
				continue
			}
			if !forPair(env, viewer, peer) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func forPair(env realtime.Envelope, viewer, peer chat.UserID) bool {
	sender, receiver := chat.UserID(env.SenderID), chat.UserID(env.ReceiverID)
	return (sender == viewer && receiver == peer) || (sender == peer && receiver == viewer)
}

func closeSocket(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

var _ LiveHTTP = LiveHandler{}
