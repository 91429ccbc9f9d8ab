package chat

import (
	"strings"
	"time"
)

type UserID string

type MessageID string

// AttachmentKind is the coarse media classification of an attachment.
type AttachmentKind string

const (
	KindNone  AttachmentKind = ""
	KindImage AttachmentKind = "image"
	KindVideo AttachmentKind = "video"
	KindAudio AttachmentKind = "audio"
	KindFile  AttachmentKind = "file"
)

// Valid reports whether k is one of the known kinds (KindNone excluded).
func (k AttachmentKind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindAudio, KindFile:
		return true
	}
	return false
}

// ClassifyMIME derives the attachment kind from the MIME prefix only.
func ClassifyMIME(mimeType string) AttachmentKind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage
	case strings.HasPrefix(mt, "video/"):
		return KindVideo
	case strings.HasPrefix(mt, "audio/"):
		return KindAudio
	default:
		return KindFile
	}
}

// Placeholder is the synthesized content for a message that carries only an attachment.
func Placeholder(kind AttachmentKind) string {
	switch kind {
	case KindImage:
		return "[Image sent]"
	case KindVideo:
		return "[Video sent]"
	case KindAudio:
		return "[Audio sent]"
	default:
		return "[File sent]"
	}
}

// Message is an immutable point-to-point message. ID and CreatedAt are assigned by the store.
type Message struct {
	ID             MessageID
	SenderID       UserID
	ReceiverID     UserID
	Content        string
	CreatedAt      time.Time
	AttachmentURL  string
	AttachmentType AttachmentKind
}

// Counterpart returns the other participant relative to viewer.
func (m Message) Counterpart(viewer UserID) UserID {
	if m.SenderID == viewer {
		return m.ReceiverID
	}
	return m.SenderID
}

// Between reports whether the message was exchanged between a and b, in either direction.
func (m Message) Between(a, b UserID) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// Involves reports whether user is the sender or the receiver.
func (m Message) Involves(user UserID) bool {
	return m.SenderID == user || m.ReceiverID == user
}

func (m Message) HasAttachment() bool {
	return m.AttachmentURL != ""
}

// Before orders messages by CreatedAt, then by ID so that the order is total.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// PairKey is an order-independent key for the two participants.
func PairKey(a, b UserID) string {
	if b < a {
		a, b = b, a
	}
	return string(a) + ":" + string(b)
}
