// Package event holds the event data model shared by ingestion, the worker and
// the status stores: the in-flight Event, its lifecycle Status, and the status
// Record with partial updates.
package event

import (
	"encoding/json"
	"time"
)

// Event is the unit of work carried as the queue message body.
type Event struct {
	ID          string         `json:"event_id"`
	Type        string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
	Priority    int            `json:"priority"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      Status         `json:"status,omitempty"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// DefaultPriority is assigned when a submission omits priority.
const DefaultPriority = 5

// Record is the status store view of an event.
type Record struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type,omitempty"`
	Status      Status          `json:"status"`
	Payload     map[string]any  `json:"payload,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	MessageID   string          `json:"message_id,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at,omitzero"`
	ProcessedAt time.Time       `json:"processed_at,omitzero"`
	UpdatedAt   time.Time       `json:"updated_at,omitzero"`
}

// NewRecord returns the initial queued record for e.
func NewRecord(e Event) Record {
	return Record{
		EventID:     e.ID,
		EventType:   e.Type,
		Status:      StatusQueued,
		Payload:     e.Payload,
		Priority:    e.Priority,
		Metadata:    e.Metadata,
		SubmittedAt: e.SubmittedAt,
		UpdatedAt:   e.SubmittedAt,
	}
}

// Patch is a partial update of a Record. Zero fields are left untouched.
type Patch struct {
	Status      Status
	MessageID   string
	WorkerID    string
	Result      json.RawMessage
	Error       string
	ProcessedAt time.Time
}

// Processing returns the patch marking an event as picked up by workerID.
func Processing(workerID string) Patch {
	return Patch{Status: StatusProcessing, WorkerID: workerID}
}

// Completed returns the terminal success patch.
func Completed(result json.RawMessage, at time.Time) Patch {
	return Patch{Status: StatusCompleted, Result: result, ProcessedAt: at}
}

// Failed returns the terminal failure patch.
func Failed(reason string, at time.Time) Patch {
	return Patch{Status: StatusFailed, Error: reason, ProcessedAt: at}
}

// Apply merges p into r after checking the status transition. Patches without a
// status change (for example a late message id) are accepted in any state.
func (r *Record) Apply(p Patch, now time.Time) error {
	if p.Status != "" {
		if err := r.Status.CheckTransition(p.Status); err != nil {
			return err
		}
		r.Status = p.Status
	}
	if p.MessageID != "" {
		r.MessageID = p.MessageID
	}
	if p.WorkerID != "" {
		r.WorkerID = p.WorkerID
	}
	if p.Result != nil {
		r.Result = p.Result
	}
	if p.Error != "" {
		r.Error = p.Error
	}
	if !p.ProcessedAt.IsZero() {
		r.ProcessedAt = p.ProcessedAt
	}
	r.UpdatedAt = now
	return nil
}
