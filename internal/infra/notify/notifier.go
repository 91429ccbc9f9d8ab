package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	appoutbox "peerchat/internal/app/outbox"
	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
)

// EventMessageNotification is the outbox record name of a receiver notification.
const EventMessageNotification = "chat.notification"

// Payload is the data section of the published notification event.
type Payload struct {
	MessageID         string `json:"message_id"`
	ReceiverID        string `json:"receiver_id"`
	ReceiverContact   string `json:"receiver_contact,omitempty"`
	SenderID          string `json:"sender_id"`
	SenderDisplayName string `json:"sender_display_name"`
	PreviewText       string `json:"preview_text"`
	DeepLink          string `json:"deep_link"`
}

// OutboxNotifier records notifications into the outbox; the Worker delivers them.
type OutboxNotifier struct {
	Store appoutbox.Store
	Now   func() time.Time
}

func (n OutboxNotifier) Notify(ctx context.Context, msg policies.Notification) error {
	if n.Store == nil {
		return fmt.Errorf("%w: outbox not configured", chat.ErrNotificationFailed)
	}
	now := time.Now().UTC()
	if n.Now != nil {
		now = n.Now()
	}
	rec, err := appoutbox.NewRecord(EventMessageNotification, string(msg.ReceiverID), Payload{
		MessageID:         string(msg.MessageID),
		ReceiverID:        string(msg.ReceiverID),
		ReceiverContact:   strings.TrimSpace(msg.ReceiverContact),
		SenderID:          string(msg.SenderID),
		SenderDisplayName: msg.SenderDisplayName,
		PreviewText:       msg.PreviewText,
		DeepLink:          msg.DeepLink,
	}, now)
	if err != nil {
		return fmt.Errorf("%w: %v", chat.ErrNotificationFailed, err)
	}
	rec.Headers["message_id"] = string(msg.MessageID)
	if err := n.Store.Add(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrNotificationFailed, err)
	}
	return nil
}

var _ policies.Notifier = OutboxNotifier{}
