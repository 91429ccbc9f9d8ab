package attachments

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"peerchat/internal/app/policies"
	"peerchat/internal/domain/chat"
	"peerchat/internal/metrics"
)

const genericMIME = "application/octet-stream"

// DefaultMaxBytes caps a single attachment when the pipeline is not configured otherwise.
const DefaultMaxBytes int64 = 25 << 20

// Stored describes a persisted attachment.
type Stored struct {
	URL       string
	Kind      chat.AttachmentKind
	MIMEType  string
	Partition policies.Partition
}

// Pipeline classifies attachment payloads and routes them to a storage partition.
type Pipeline struct {
	Blobs    policies.AttachmentStore
	Logger   *slog.Logger
	MaxBytes int64
	Now      func() time.Time
}

// PartitionFor routes video and audio to the media partition, everything else to assets.
func PartitionFor(kind chat.AttachmentKind) policies.Partition {
	switch kind {
	case chat.KindVideo, chat.KindAudio:
		return policies.PartitionMedia
	default:
		return policies.PartitionAssets
	}
}

// Store persists payload and returns its URL and kind. Every failure wraps chat.ErrAttachmentUploadFailed.
func (p *Pipeline) Store(ctx context.Context, payload []byte, mimeType string) (Stored, error) {
	if len(payload) == 0 {
		return Stored{}, fmt.Errorf("%w: %w", chat.ErrAttachmentUploadFailed, chat.ErrEmptyAttachment)
	}
	if limit := p.maxBytes(); int64(len(payload)) > limit {
		return Stored{}, fmt.Errorf("%w: %w: %d > %d bytes", chat.ErrAttachmentUploadFailed, chat.ErrAttachmentTooLarge, len(payload), limit)
	}

	mimeType = normalizeMIME(mimeType)
	if mimeType == "" || mimeType == genericMIME {
		mimeType = mimetype.Detect(payload).String()
	}
	kind := chat.ClassifyMIME(mimeType)
	partition := PartitionFor(kind)
	key := p.objectKey(kind, mimeType)

	if p.Blobs == nil {
		metrics.AttachmentUploadFailures.WithLabelValues(string(partition)).Inc()
		return Stored{}, fmt.Errorf("%w: attachment store not configured", chat.ErrAttachmentUploadFailed)
	}
	url, err := p.Blobs.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), mimeType, partition)
	if err != nil {
		metrics.AttachmentUploadFailures.WithLabelValues(string(partition)).Inc()
		if p.Logger != nil {
			p.Logger.WarnContext(ctx, "attachment upload failed", "key", key, "partition", partition, "error", err)
		}
		return Stored{}, fmt.Errorf("%w: %v", chat.ErrAttachmentUploadFailed, err)
	}
	if p.Logger != nil {
		p.Logger.DebugContext(ctx, "attachment stored", "key", key, "kind", kind, "partition", partition, "size", len(payload))
	}
	return Stored{URL: url, Kind: kind, MIMEType: mimeType, Partition: partition}, nil
}

func (p *Pipeline) objectKey(kind chat.AttachmentKind, mimeType string) string {
	ext := ""
	if mt := mimetype.Lookup(mimeType); mt != nil {
		ext = mt.Extension()
	}
	return fmt.Sprintf("%s/%s/%s%s", kind, p.now().Format("2006/01/02"), uuid.NewString(), ext)
}

func (p *Pipeline) maxBytes() int64 {
	if p.MaxBytes > 0 {
		return p.MaxBytes
	}
	return DefaultMaxBytes
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// normalizeMIME drops parameters and lowercases the media type.
func normalizeMIME(mimeType string) string {
	mt := strings.TrimSpace(mimeType)
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return strings.ToLower(mt)
}
