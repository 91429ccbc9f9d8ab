package chat

import "errors"

var (
	// Fatal to the send operation, retryable by the caller.
	ErrAttachmentUploadFailed = errors.New("chat: attachment upload failed")
	ErrStoreWriteFailed       = errors.New("chat: store write failed")

	// Absorbed locally and logged.
	ErrEnrichmentFailed    = errors.New("chat: enrichment failed")
	ErrNotificationFailed  = errors.New("chat: notification failed")
	ErrSubscriptionDropped = errors.New("chat: subscription dropped")

	ErrEmptyMessage        = errors.New("chat: message needs text or an attachment")
	ErrParticipantRequired = errors.New("chat: sender and receiver are required")
	ErrEmptyAttachment     = errors.New("chat: attachment payload is empty")
	ErrAttachmentTooLarge  = errors.New("chat: attachment exceeds size limit")
	ErrInvalidEnvelope     = errors.New("chat: invalid change feed envelope")
	ErrSessionClosed       = errors.New("chat: session closed")
	ErrUserNotFound        = errors.New("chat: user not found")
)
