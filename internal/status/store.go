// Package status records the lifecycle of events in a keyed status store.
package status

import (
	"context"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// ErrNotFound is returned by Get for unknown event ids.
var ErrNotFound = errors.NotFoundError("event not found").Build()

// Store persists status records keyed by event id. Update is an atomic
// read-modify-write per call: it creates the record when missing and refuses
// status changes out of a terminal state with event.ErrTerminalStatus.
type Store interface {
	Put(ctx context.Context, rec event.Record) error
	Update(ctx context.Context, eventID string, patch event.Patch) (event.Record, error)
	Get(ctx context.Context, eventID string) (event.Record, error)
}

// checkPut rejects replacing a terminal record.
func checkPut(existing event.Record, found bool) error {
	if found && existing.Status.IsTerminal() {
		return event.ErrTerminalStatus.WithContext("event_id", existing.EventID)
	}
	return nil
}
