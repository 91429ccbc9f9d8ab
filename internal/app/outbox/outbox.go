package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StateNew     = "NEW"
	StateClaimed = "CLAIMED"
	StateSent    = "SENT"
	StateFailed  = "FAILED"
	// StateDead marks records that exhausted their attempts.
	StateDead = "DEAD"
)

// Record is a side effect captured after the primary write committed.
type Record struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Document is a Record plus its delivery state.
type Document struct {
	Record
	State       string
	Attempts    int
	NextAttempt time.Time
	ClaimedBy   string
	LastError   string
}

// Store persists records until a worker delivers them.
type Store interface {
	Add(ctx context.Context, record Record) error
	// Claim returns the next due record, or nil when nothing is due.
	Claim(ctx context.Context, workerID string) (*Document, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
	MarkDead(ctx context.Context, id string, errMsg string) error
}

// NewRecord encodes v as the JSON payload of a record named name.
func NewRecord(name, aggregate string, v any, occurredAt time.Time) (Record, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	return Record{
		ID:         uuid.NewString(),
		Name:       name,
		Payload:    payload,
		OccurredAt: occurredAt,
		Aggregate:  aggregate,
		Headers:    map[string]string{},
	}, nil
}
