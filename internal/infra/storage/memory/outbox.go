package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	appoutbox "peerchat/internal/app/outbox"
)

var ErrOutboxRecordNotFound = errors.New("memory: outbox record not found")

// Outbox keeps outbox documents in memory in insertion order.
type Outbox struct {
	mu   sync.Mutex
	docs []*appoutbox.Document
	now  func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.Record) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.docs = append(o.docs, &appoutbox.Document{
		Record:      record,
		State:       appoutbox.StateNew,
		NextAttempt: o.now().UTC(),
	})
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Document, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now().UTC()
	for _, doc := range o.docs {
		if doc.State != appoutbox.StateNew && doc.State != appoutbox.StateFailed {
			continue
		}
		if doc.NextAttempt.After(now) {
			continue
		}
		doc.State = appoutbox.StateClaimed
		doc.ClaimedBy = workerID
		claimed := *doc
		return &claimed, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	return o.update(id, func(doc *appoutbox.Document) {
		doc.State = appoutbox.StateSent
	})
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	return o.update(id, func(doc *appoutbox.Document) {
		doc.State = appoutbox.StateFailed
		doc.NextAttempt = next
		doc.LastError = errMsg
		doc.Attempts++
	})
}

func (o *Outbox) MarkDead(ctx context.Context, id string, errMsg string) error {
	return o.update(id, func(doc *appoutbox.Document) {
		doc.State = appoutbox.StateDead
		doc.LastError = errMsg
		doc.Attempts++
	})
}

// Documents returns a snapshot of every document.
func (o *Outbox) Documents() []appoutbox.Document {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]appoutbox.Document, 0, len(o.docs))
	for _, doc := range o.docs {
		out = append(out, *doc)
	}
	return out
}

func (o *Outbox) update(id string, fn func(*appoutbox.Document)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, doc := range o.docs {
		if doc.ID == id {
			fn(doc)
			return nil
		}
	}
	return ErrOutboxRecordNotFound
}

var _ appoutbox.Store = (*Outbox)(nil)
