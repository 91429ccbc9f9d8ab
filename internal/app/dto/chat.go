package dto

import (
	"time"

	"peerchat/internal/domain/chat"
)

// Participant is the public identity rendered next to a conversation or message.
type Participant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarRef string `json:"avatar_ref,omitempty"`
	Role      string `json:"role,omitempty"`
	Unknown   bool   `json:"unknown,omitempty"`
}

// ChatMessage contains a single message payload.
type ChatMessage struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	AttachmentURL  string    `json:"attachment_url,omitempty"`
	AttachmentType string    `json:"attachment_type,omitempty"`
}

// Conversation is one entry of the derived conversation list.
type Conversation struct {
	Counterpart Participant `json:"counterpart"`
	LastMessage ChatMessage `json:"last_message"`
	UnreadCount int         `json:"unread_count"`
	HasUnread   bool        `json:"has_unread"`
}

// ConversationList carries the list plus a soft warning when enrichment degraded.
type ConversationList struct {
	Items    []Conversation `json:"items"`
	Degraded bool           `json:"degraded,omitempty"`
	Warning  string         `json:"warning,omitempty"`
}

// Thread is the batch fetch of a single conversation, oldest first.
type Thread struct {
	Counterpart Participant   `json:"counterpart"`
	Messages    []ChatMessage `json:"messages"`
}

// ReviewEligibility reports the reciprocity check for a pair of users.
type ReviewEligibility struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Sent       bool   `json:"sent"`
	Received   bool   `json:"received"`
	Eligible   bool   `json:"eligible"`
}

// ReadReceipt acknowledges a mark-read command.
type ReadReceipt struct {
	CounterpartID string    `json:"counterpart_id"`
	ReadAt        time.Time `json:"read_at"`
}

func MapMessage(m chat.Message) ChatMessage {
	return ChatMessage{
		ID:             string(m.ID),
		SenderID:       string(m.SenderID),
		ReceiverID:     string(m.ReceiverID),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		AttachmentURL:  m.AttachmentURL,
		AttachmentType: string(m.AttachmentType),
	}
}

// ToMessage converts a transport message back into the domain shape.
func (m ChatMessage) ToMessage() chat.Message {
	return chat.Message{
		ID:             chat.MessageID(m.ID),
		SenderID:       chat.UserID(m.SenderID),
		ReceiverID:     chat.UserID(m.ReceiverID),
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
		AttachmentURL:  m.AttachmentURL,
		AttachmentType: chat.AttachmentKind(m.AttachmentType),
	}
}

func MapMessages(in []chat.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(in))
	for _, m := range in {
		out = append(out, MapMessage(m))
	}
	return out
}

func MapParticipant(p chat.Profile) Participant {
	return Participant{
		ID:        string(p.ID),
		Name:      p.DisplayName(),
		AvatarRef: p.AvatarRef,
		Role:      p.Role,
		Unknown:   p.Unknown,
	}
}

func MapConversation(c chat.Conversation) Conversation {
	return Conversation{
		Counterpart: MapParticipant(c.Counterpart),
		LastMessage: MapMessage(c.LastMessage),
		UnreadCount: c.UnreadCount,
		HasUnread:   c.HasUnread(),
	}
}
