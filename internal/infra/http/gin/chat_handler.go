package ginserver

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	gin "github.com/gin-gonic/gin"

	"peerchat/internal/app/commands"
	"peerchat/internal/app/dto"
	conversationsapp "peerchat/internal/app/handlers/conversations"
	messagesapp "peerchat/internal/app/handlers/messages"
	"peerchat/internal/app/queries"
)

// ChatHandler exposes the conversation list, thread fetch, send and mark-read endpoints.
type ChatHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
	Logger   *slog.Logger
	// MaxUploadBytes caps how much of a multipart file is read; the pipeline enforces the real limit.
	MaxUploadBytes int64
}

func (h ChatHandler) ListConversations(c *gin.Context) {
	viewer, ok := requirePrincipal(c)
	if !ok {
		return
	}
	result, err := queries.Ask[conversationsapp.ListConversationsQuery, dto.ConversationList](
		c.Request.Context(), h.Queries, conversationsapp.ListConversationsQuery{ViewerID: viewer})
	if err != nil {
		respondError(c, h.Logger, err, "list conversations", "viewer_id", viewer)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h ChatHandler) Thread(c *gin.Context) {
	viewer, ok := requirePrincipal(c)
	if !ok {
		return
	}
	peer, ok := requirePeer(c)
	if !ok {
		return
	}
	query := messagesapp.GetThreadQuery{ViewerID: viewer, CounterpartID: peer}
	if raw := strings.TrimSpace(c.Query("since")); raw != "" {
		since, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		query.Since = &since
	}
	result, err := queries.Ask[messagesapp.GetThreadQuery, dto.Thread](c.Request.Context(), h.Queries, query)
	if err != nil {
		respondError(c, h.Logger, err, "load thread", "viewer_id", viewer, "counterpart_id", peer)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Send accepts JSON {"text"} or multipart with a "text" field and a "file" part.
func (h ChatHandler) Send(c *gin.Context) {
	sender, ok := requirePrincipal(c)
	if !ok {
		return
	}
	peer, ok := requirePeer(c)
	if !ok {
		return
	}
	cmd := messagesapp.SendMessageCommand{SenderID: sender, ReceiverID: peer}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		cmd.Text = c.PostForm("text")
		if fh, err := c.FormFile("file"); err == nil {
			attachment, err := h.readAttachment(fh)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			cmd.Attachment = attachment
		} else if err != http.ErrMissingFile {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart payload"})
			return
		}
	} else {
		var req struct {
			Text string `json:"text"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		cmd.Text = req.Text
	}

	message, err := commands.Dispatch[messagesapp.SendMessageCommand, dto.ChatMessage](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		respondError(c, h.Logger, err, "send message", "sender_id", sender, "receiver_id", peer)
		return
	}
	c.JSON(http.StatusCreated, message)
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	viewer, ok := requirePrincipal(c)
	if !ok {
		return
	}
	peer, ok := requirePeer(c)
	if !ok {
		return
	}
	var req struct {
		At time.Time `json:"at"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}
	receipt, err := commands.Dispatch[conversationsapp.MarkReadCommand, dto.ReadReceipt](
		c.Request.Context(), h.Commands, conversationsapp.MarkReadCommand{ViewerID: viewer, CounterpartID: peer, At: req.At})
	if err != nil {
		respondError(c, h.Logger, err, "mark read", "viewer_id", viewer, "counterpart_id", peer)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (h ChatHandler) readAttachment(fh *multipart.FileHeader) (*messagesapp.Attachment, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	reader := io.Reader(f)
	if h.MaxUploadBytes > 0 {
		// one extra byte so the pipeline can tell an oversized payload apart
		reader = io.LimitReader(f, h.MaxUploadBytes+1)
	}
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return &messagesapp.Attachment{Payload: payload, MIMEType: fh.Header.Get("Content-Type")}, nil
}

var _ ChatHTTP = ChatHandler{}
