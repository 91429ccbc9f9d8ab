//go:generate go run go.uber.org/mock/mockgen -source=notifier_port.go -destination=../../mocks/mock_notifier.go -package=mocks
package policies

import (
	"context"

	"peerchat/internal/domain/chat"
)

// Notification is the best-effort push sent to a receiver after a message commits.
type Notification struct {
	MessageID         chat.MessageID
	ReceiverID        chat.UserID
	ReceiverContact   string
	SenderID          chat.UserID
	SenderDisplayName string
	PreviewText       string
	DeepLink          string
}

// Notifier hands a notification to the delivery channel. Failures are never fatal to a send.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
