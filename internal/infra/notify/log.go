package notify

import (
	"context"
	"log/slog"

	"custodia/internal/domain"
)

// Log writes one structured line per event. It is the notifier used when no
// Redis server is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, event domain.Event) error {
	msg, err := NewMessage(event)
	if err != nil {
		return err
	}
	attrs := []any{"occurred_at", msg.OccurredAt}
	switch {
	case msg.BlockHash != "":
		attrs = append(attrs, "height", *msg.Height, "block_hash", msg.BlockHash, "transactions", len(msg.Transactions))
	case msg.CustodyID != "":
		attrs = append(attrs, "artifact_id", msg.ArtifactID, "custody_event_type", msg.EventType, "seq", *msg.Seq)
	default:
		attrs = append(attrs, "batch", len(msg.Transactions), "failed", len(msg.FailedPredicates), "evicted", len(msg.Evicted))
	}
	l.logger.InfoContext(ctx, string(msg.Type), attrs...)
	return nil
}
