package messages

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"peerchat/internal/app/attachments"
	"peerchat/internal/app/commands"
	"peerchat/internal/app/dto"
	"peerchat/internal/app/policies"
	"peerchat/internal/app/realtime"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const (
	sendMessageKey        = "messages.send"
	defaultNotifyTimeout  = 10 * time.Second
	previewRunes          = 140
	noAttachmentMetricTag = "none"
)

// Attachment is the raw binary part of a send.
type Attachment struct {
	Payload  []byte
	MIMEType string
}

// SendMessageCommand appends one message. It is not idempotent: two dispatches create two messages.
type SendMessageCommand struct {
	SenderID   chat.UserID `validate:"required"`
	ReceiverID chat.UserID `validate:"required"`
	Text       string      `validate:"max=4000"`
	Attachment *Attachment
}

func (c SendMessageCommand) Key() string          { return sendMessageKey }
func (c SendMessageCommand) ActorID() chat.UserID { return c.SenderID }

// AttachmentPipeline stores a payload and classifies it.
type AttachmentPipeline interface {
	Store(ctx context.Context, payload []byte, mimeType string) (attachments.Stored, error)
}

// SendMessageHandler uploads the attachment, appends the message and then fires the
// change feed publish and the receiver notification. Neither side effect can fail the send.
type SendMessageHandler struct {
	Messages      policies.MessageStore
	Attachments   AttachmentPipeline
	Feed          realtime.Publisher
	Notifier      policies.Notifier
	Identity      policies.IdentityResolver
	Logger        *slog.Logger
	DeepLinkBase  string
	NotifyTimeout time.Duration

	inflight sync.WaitGroup
}

func (h *SendMessageHandler) Handle(ctx context.Context, cmd SendMessageCommand) (dto.ChatMessage, error) {
	if cmd.SenderID == "" || cmd.ReceiverID == "" {
		return dto.ChatMessage{}, chat.ErrParticipantRequired
	}
	text := strings.TrimSpace(cmd.Text)
	hasAttachment := cmd.Attachment != nil && len(cmd.Attachment.Payload) > 0
	if text == "" && !hasAttachment {
		return dto.ChatMessage{}, chat.ErrEmptyMessage
	}

	msg := chat.Message{
		SenderID:   cmd.SenderID,
		ReceiverID: cmd.ReceiverID,
		Content:    text,
	}
	if hasAttachment {
		if h.Attachments == nil {
			return dto.ChatMessage{}, fmt.Errorf("%w: attachment pipeline not configured", chat.ErrAttachmentUploadFailed)
		}
		stored, err := h.Attachments.Store(ctx, cmd.Attachment.Payload, cmd.Attachment.MIMEType)
		if err != nil {
			return dto.ChatMessage{}, err
		}
		msg.AttachmentURL = stored.URL
		msg.AttachmentType = stored.Kind
		if msg.Content == "" {
			msg.Content = chat.Placeholder(stored.Kind)
		}
	}

	saved, err := h.Messages.Append(ctx, msg)
	if err != nil {
		metrics.StoreWriteFailures.Inc()
		return dto.ChatMessage{}, fmt.Errorf("%w: %v", chat.ErrStoreWriteFailed, err)
	}
	kind := string(saved.AttachmentType)
	if kind == "" {
		kind = noAttachmentMetricTag
	}
	metrics.MessagesSent.WithLabelValues(kind).Inc()

	if h.Feed != nil {
		if err := h.Feed.Publish(ctx, saved); err != nil {
			metrics.FeedEventsDropped.WithLabelValues("publish").Inc()
			h.warn(ctx, "change feed publish failed", "message_id", saved.ID, "error", err)
		}
	}
	h.notify(ctx, saved)

	if h.Logger != nil {
		h.Logger.InfoContext(ctx, "message sent", "message_id", saved.ID, "sender_id", saved.SenderID, "receiver_id", saved.ReceiverID, "kind", saved.AttachmentType)
	}
	return dto.MapMessage(saved), nil
}

// Wait blocks until in-flight notifications finish.
func (h *SendMessageHandler) Wait() {
	h.inflight.Wait()
}

func (h *SendMessageHandler) notify(parent context.Context, msg chat.Message) {
	if h.Notifier == nil {
		return
	}
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), h.notifyTimeout())
		defer cancel()

		n := h.composeNotification(ctx, msg)
		if err := h.Notifier.Notify(ctx, n); err != nil {
			metrics.Notifications.WithLabelValues("failed").Inc()
			h.warn(ctx, "notification dropped", "message_id", msg.ID, "receiver_id", msg.ReceiverID, "error", fmt.Errorf("%w: %v", chat.ErrNotificationFailed, err))
			return
		}
		metrics.Notifications.WithLabelValues("queued").Inc()
	}()
}

func (h *SendMessageHandler) composeNotification(ctx context.Context, msg chat.Message) policies.Notification {
	sender := chat.UnknownProfile(msg.SenderID)
	receiver := chat.UnknownProfile(msg.ReceiverID)
	if h.Identity != nil {
		profiles, err := h.Identity.Profiles(ctx, []chat.UserID{msg.SenderID, msg.ReceiverID})
		if err != nil {
			metrics.EnrichmentFailures.Inc()
			h.warn(ctx, "notification enrichment failed", "message_id", msg.ID, "error", err)
		}
		if p, ok := profiles[msg.SenderID]; ok {
			sender = p
		}
		if p, ok := profiles[msg.ReceiverID]; ok {
			receiver = p
		}
	}
	return policies.Notification{
		MessageID:         msg.ID,
		ReceiverID:        msg.ReceiverID,
		ReceiverContact:   receiver.Contact,
		SenderID:          msg.SenderID,
		SenderDisplayName: sender.DisplayName(),
		PreviewText:       preview(msg.Content),
		DeepLink:          strings.TrimRight(h.DeepLinkBase, "/") + "/" + string(msg.SenderID),
	}
}

func (h *SendMessageHandler) notifyTimeout() time.Duration {
	if h.NotifyTimeout > 0 {
		return h.NotifyTimeout
	}
	return defaultNotifyTimeout
}

func (h *SendMessageHandler) warn(ctx context.Context, msg string, attrs ...any) {
	if h.Logger != nil {
		h.Logger.WarnContext(ctx, msg, attrs...)
	}
}

func preview(content string) string {
	if utf8.RuneCountInString(content) <= previewRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewRunes-1]) + "…"
}

var _ commands.Handler[SendMessageCommand, dto.ChatMessage] = (*SendMessageHandler)(nil)
