package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"peerchat/internal/domain/chat"
)

// TypeMessageInserted is the only event type the change feed carries.
const TypeMessageInserted = "message.inserted"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the untyped change feed frame. Routing fields travel as headers so brokers
// can fan out without decoding the payload.
type Envelope struct {
	Type       string          `json:"type" validate:"required"`
	SenderID   string          `json:"sender_id" validate:"required"`
	ReceiverID string          `json:"receiver_id" validate:"required"`
	Payload    json.RawMessage `json:"payload" validate:"required"`
}

// Involves reports whether user is one of the routing participants.
func (e Envelope) Involves(user chat.UserID) bool {
	return chat.UserID(e.SenderID) == user || chat.UserID(e.ReceiverID) == user
}

type insertedPayload struct {
	ID             string    `json:"id" validate:"required"`
	SenderID       string    `json:"sender_id" validate:"required"`
	ReceiverID     string    `json:"receiver_id" validate:"required"`
	Content        string    `json:"content" validate:"required"`
	CreatedAt      time.Time `json:"created_at" validate:"required"`
	AttachmentURL  string    `json:"attachment_url,omitempty" validate:"required_with=AttachmentType"`
	AttachmentType string    `json:"attachment_type,omitempty" validate:"omitempty,oneof=image video audio file"`
}

// NewInsertEnvelope wraps a committed message.
func NewInsertEnvelope(msg chat.Message) (Envelope, error) {
	payload, err := json.Marshal(insertedPayload{
		ID:             string(msg.ID),
		SenderID:       string(msg.SenderID),
		ReceiverID:     string(msg.ReceiverID),
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
		AttachmentURL:  msg.AttachmentURL,
		AttachmentType: string(msg.AttachmentType),
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("realtime: encode payload: %w", err)
	}
	return Envelope{
		Type:       TypeMessageInserted,
		SenderID:   string(msg.SenderID),
		ReceiverID: string(msg.ReceiverID),
		Payload:    payload,
	}, nil
}

// EncodeInsert renders msg as a wire frame.
func EncodeInsert(msg chat.Message) ([]byte, error) {
	env, err := NewInsertEnvelope(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// ParseEnvelope validates the outer frame without touching the payload.
func ParseEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", chat.ErrInvalidEnvelope, err)
	}
	if err := validate.Struct(env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", chat.ErrInvalidEnvelope, err)
	}
	return env, nil
}

// Decode narrows a wire frame into a typed message.
func Decode(frame []byte) (chat.Message, error) {
	env, err := ParseEnvelope(frame)
	if err != nil {
		return chat.Message{}, err
	}
	return env.Message()
}

// Message narrows the payload. Header and payload participants must agree.
func (e Envelope) Message() (chat.Message, error) {
	if e.Type != TypeMessageInserted {
		return chat.Message{}, fmt.Errorf("%w: unsupported type %q", chat.ErrInvalidEnvelope, e.Type)
	}
	var p insertedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrInvalidEnvelope, err)
	}
	if err := validate.Struct(p); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrInvalidEnvelope, err)
	}
	if p.SenderID != e.SenderID || p.ReceiverID != e.ReceiverID {
		return chat.Message{}, fmt.Errorf("%w: header participants do not match payload", chat.ErrInvalidEnvelope)
	}
	return chat.Message{
		ID:             chat.MessageID(p.ID),
		SenderID:       chat.UserID(p.SenderID),
		ReceiverID:     chat.UserID(p.ReceiverID),
		Content:        p.Content,
		CreatedAt:      p.CreatedAt,
		AttachmentURL:  p.AttachmentURL,
		AttachmentType: chat.AttachmentKind(p.AttachmentType),
	}, nil
}
