package event

import "git.home.luguber.info/inful/eventworker/internal/foundation/errors"

// Status is the lifecycle state of an event.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrTerminalStatus is returned when a write would move an event out of completed or failed.
	ErrTerminalStatus = errors.NewError(errors.CategoryStatusStore, "event status is terminal").Permanent().Build()
	// ErrInvalidTransition is returned for transitions the state machine does not allow.
	ErrInvalidTransition = errors.NewError(errors.CategoryStatusStore, "invalid status transition").Permanent().Build()
)

// IsTerminal reports whether no further transitions may occur.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether an event in state s may move to next. The zero
// Status stands for "no record yet". Repeated processing marks are allowed since
// redelivery surfaces as another processing transition, and a lost processing
// write must not prevent the terminal one.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() || s.IsTerminal() {
		return false
	}
	if next == StatusQueued {
		return s == ""
	}
	return true
}

// CheckTransition is CanTransition returning the matching sentinel error.
func (s Status) CheckTransition(next Status) error {
	if s.CanTransition(next) {
		return nil
	}
	if s.IsTerminal() {
		return ErrTerminalStatus.WithContext("from", string(s)).WithContext("to", string(next))
	}
	return ErrInvalidTransition.WithContext("from", string(s)).WithContext("to", string(next))
}
