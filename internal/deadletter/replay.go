package deadletter

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/eventworker/internal/journal"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/queue"
)

// SpoolSource lists and settles spooled bodies.
type SpoolSource interface {
	PendingSpool(ctx context.Context) ([]journal.SpooledMessage, error)
	MarkReplayed(ctx context.Context, msg journal.SpooledMessage, messageID string) error
}

// Replay forwards every pending spooled body to dlq in spool order and stops at
// the first failure. It returns how many bodies were forwarded.
func Replay(ctx context.Context, src SpoolSource, dlq queue.Sender, recorder metrics.Recorder) (int, error) {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	pending, err := src.PendingSpool(ctx)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, msg := range pending {
		id, err := dlq.Send(ctx, msg.Body, msg.Attributes)
		if err != nil {
			return replayed, fmt.Errorf("replay spool entry %d: %w", msg.SpoolID, err)
		}
		if err := src.MarkReplayed(ctx, msg, id); err != nil {
			return replayed, fmt.Errorf("mark spool entry %d replayed: %w", msg.SpoolID, err)
		}
		recorder.IncDeadLetter(metrics.DeadLetterReplayed)
		slog.Info("Replayed spooled dead-letter message", logfields.EventID(msg.EventID), "spool_id", msg.SpoolID, logfields.MessageID(id))
		replayed++
	}
	return replayed, nil
}
