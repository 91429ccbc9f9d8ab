package notify

import (
	"context"
	"log/slog"
)

// LogProducer writes events to the log instead of a broker. Used when NOTIFY_DRIVER=log.
type LogProducer struct {
	Logger *slog.Logger
}

func (p LogProducer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if p.Logger != nil {
		p.Logger.InfoContext(ctx, "notification event", "topic", topic, "key", key, "content_type", headers["content-type"], "payload", string(payload))
	}
	return nil
}

var _ Producer = LogProducer{}
