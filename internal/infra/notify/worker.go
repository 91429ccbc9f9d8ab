package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "peerchat/internal/app/outbox"
	"peerchat/internal/metrics"
)

// NotificationsTopic is the topic notification events are published to, before the prefix.
const NotificationsTopic = "notifications.v1"

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Worker drains the outbox and publishes CloudEvents to the producer.
type Worker struct {
	Store       appoutbox.Store
	Producer    Producer
	Logger      *slog.Logger
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	// MaxAttempts bounds delivery attempts; zero means one attempt per backoff step plus one.
	MaxAttempts int
	Now         func() time.Time
}

// Run drains the outbox on every tick until ctx ends. Store and producer failures are
// logged and retried on the next tick.
func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				metrics.Notifications.WithLabelValues("failed").Inc()
				if w.Logger != nil {
					w.Logger.Warn("outbox drain failed", "error", err)
				}
			}
		}
	}
}

// Drain processes due records until none is left.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		processed, err := w.processOnce(ctx)
		if err != nil || !processed {
			return err
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) (bool, error) {
	doc, err := w.Store.Claim(ctx, w.workerID())
	if err != nil || doc == nil {
		return false, err
	}
	payload, headers, err := w.formatPayload(doc)
	if err != nil {
		return true, w.fail(ctx, doc, err)
	}
	if err := w.Producer.Publish(ctx, w.topic(), doc.Aggregate, payload, headers); err != nil {
		return true, w.fail(ctx, doc, err)
	}
	metrics.Notifications.WithLabelValues("published").Inc()
	return true, w.Store.MarkSent(ctx, doc.ID)
}

func (w *Worker) fail(ctx context.Context, doc *appoutbox.Document, cause error) error {
	if doc.Attempts+1 >= w.maxAttempts() {
		metrics.Notifications.WithLabelValues("dead").Inc()
		if w.Logger != nil {
			w.Logger.Warn("notification delivery exhausted", "message_id", doc.Headers["message_id"], "attempt", doc.Attempts+1, "error", cause)
		}
		return w.Store.MarkDead(ctx, doc.ID, cause.Error())
	}
	metrics.Notifications.WithLabelValues("retry").Inc()
	if w.Logger != nil {
		w.Logger.Warn("notification delivery failed", "message_id", doc.Headers["message_id"], "attempt", doc.Attempts+1, "error", cause)
	}
	return w.Store.MarkFailed(ctx, doc.ID, w.nextRetry(doc.Attempts), cause.Error())
}

func (w *Worker) formatPayload(doc *appoutbox.Document) ([]byte, map[string]string, error) {
	if doc.Headers == nil {
		doc.Headers = map[string]string{}
	}
	data := map[string]any{}
	if err := json.Unmarshal(doc.Payload, &data); err != nil {
		return nil, nil, err
	}
	evt := map[string]any{
		"specversion":     "1.0",
		"id":              doc.ID,
		"type":            doc.Name + ".v1",
		"source":          w.source(),
		"subject":         doc.Aggregate,
		"time":            doc.OccurredAt,
		"datacontenttype": "application/json",
		"data":            data,
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": "application/cloudevents+json",
	}
	for k, v := range doc.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

func (w *Worker) topic() string {
	return w.TopicPrefix + NotificationsTopic
}

func (w *Worker) workerID() string {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return w.ID
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) maxAttempts() int {
	if w.MaxAttempts > 0 {
		return w.MaxAttempts
	}
	return len(w.Backoff) + 1
}

func (w *Worker) nextRetry(attempts int) time.Time {
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	if attempts < len(w.Backoff) {
		return now.Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return now.Add(w.Backoff[len(w.Backoff)-1])
	}
	return now.Add(5 * time.Second)
}

func (w *Worker) source() string {
	if s := strings.TrimSpace(w.Source); s != "" {
		return s
	}
	return "app://peerchat"
}

var ErrWorkerNotConfigured = errors.New("notify: worker missing dependencies")
