//go:generate go run go.uber.org/mock/mockgen -source=ports.go -destination=../../mocks/mock_ports.go -package=mocks
package policies

import (
	"context"
	"io"
	"time"

	"peerchat/internal/domain/chat"
)

// MessageStore is the append-only message log. The store assigns ID and CreatedAt.
type MessageStore interface {
	Append(ctx context.Context, msg chat.Message) (chat.Message, error)
	// Query returns messages between a and b ordered by CreatedAt ascending,
	// restricted to CreatedAt >= since when since is non-nil.
	Query(ctx context.Context, a, b chat.UserID, since *time.Time) ([]chat.Message, error)
	// ListForUser returns every message where user is sender or receiver, in any order.
	ListForUser(ctx context.Context, user chat.UserID) ([]chat.Message, error)
	// HasMessage reports whether at least one message from -> to exists.
	HasMessage(ctx context.Context, from, to chat.UserID) (bool, error)
}

// ReadMarkers tracks how far a viewer has read each conversation.
type ReadMarkers interface {
	MarkRead(ctx context.Context, viewer, counterpart chat.UserID, at time.Time) error
	ReadMarkers(ctx context.Context, viewer chat.UserID) (map[chat.UserID]time.Time, error)
}

// IdentityResolver resolves display profiles. Unknown ids are omitted from batch
// results and reported as chat.ErrUserNotFound by Profile.
type IdentityResolver interface {
	Profile(ctx context.Context, id chat.UserID) (chat.Profile, error)
	Profiles(ctx context.Context, ids []chat.UserID) (map[chat.UserID]chat.Profile, error)
}

// Partition is the storage routing hint for attachments.
type Partition string

const (
	// PartitionMedia holds large video/audio payloads with their own retention policy.
	PartitionMedia Partition = "media"
	// PartitionAssets holds images and documents.
	PartitionAssets Partition = "assets"
)

// AttachmentStore persists a binary payload and returns a retrievable URL.
type AttachmentStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, mimeType string, partition Partition) (string, error)
}
