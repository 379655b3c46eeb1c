package status

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/journal"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
)

// Journal receives a copy of every successful status transition.
type Journal interface {
	Append(ctx context.Context, eventID, entryType string, data any) (int64, error)
}

// Tracker writes lifecycle transitions to a Store. Writes are best-effort:
// failures are logged and never returned, so status tracking can lag behind the
// true processing outcome but never blocks it.
type Tracker struct {
	store    Store
	journal  Journal
	workerID string
	now      func() time.Time
}

// NewTracker creates a Tracker writing as workerID. journal may be nil.
func NewTracker(store Store, journal Journal, workerID string) *Tracker {
	return &Tracker{store: store, journal: journal, workerID: workerID, now: time.Now}
}

// MarkProcessing records that a delivery of eventID is being handled.
func (t *Tracker) MarkProcessing(ctx context.Context, eventID string) {
	t.apply(ctx, eventID, event.Processing(t.workerID), journal.TypeProcessing, map[string]string{"worker_id": t.workerID})
}

// MarkCompleted records the terminal success with its result.
func (t *Tracker) MarkCompleted(ctx context.Context, eventID string, result json.RawMessage) {
	t.apply(ctx, eventID, event.Completed(result, t.now().UTC()), journal.TypeCompleted, nil)
}

// MarkFailed records the terminal failure with the last error text.
func (t *Tracker) MarkFailed(ctx context.Context, eventID, reason string) {
	t.apply(ctx, eventID, event.Failed(reason, t.now().UTC()), journal.TypeFailed, map[string]string{"error": reason})
}

func (t *Tracker) apply(ctx context.Context, eventID string, patch event.Patch, entryType string, data any) {
	if eventID == "" {
		slog.Debug("Skipping status update without event id", logfields.Status(string(patch.Status)))
		return
	}

	_, err := t.store.Update(ctx, eventID, patch)
	switch {
	case err == nil:
	case stderrors.Is(err, event.ErrTerminalStatus):
		slog.Info("Status already terminal, keeping it",
			logfields.EventID(eventID),
			logfields.Status(string(patch.Status)))
		return
	default:
		slog.Warn("Status update failed",
			logfields.EventID(eventID),
			logfields.Status(string(patch.Status)),
			logfields.Error(err))
		return
	}

	if t.journal == nil {
		return
	}
	if _, err := t.journal.Append(ctx, eventID, entryType, data); err != nil {
		slog.Warn("Journal append failed", logfields.EventID(eventID), logfields.Error(err))
	}
}
