// Package journal keeps an append-only SQLite log of event lifecycle changes
// and dead-letter actions. It doubles as the durable spool for message bodies
// whose dead-letter forward failed.
package journal

import (
	"encoding/json"
	"time"
)

// Entry types written by the worker.
const (
	TypeProcessing          = "status.processing"
	TypeCompleted           = "status.completed"
	TypeFailed              = "status.failed"
	TypeDeadLetterForwarded = "deadletter.forwarded"
	TypeDeadLetterSpooled   = "deadletter.spooled"
	TypeDeadLetterReplayed  = "deadletter.replayed"
)

// Entry is one journal row.
type Entry struct {
	ID        int64
	EventID   string
	Type      string
	Timestamp time.Time
	Data      json.RawMessage
}

// SpoolRecord is the data of a deadletter.spooled entry.
type SpoolRecord struct {
	Body       []byte            `json:"body"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Reason     string            `json:"reason"`
}

// ReplayRecord is the data of a deadletter.replayed entry.
type ReplayRecord struct {
	SpoolID   int64  `json:"spool_id"`
	MessageID string `json:"message_id,omitempty"`
}

// SpooledMessage is a spooled body still waiting for replay.
type SpooledMessage struct {
	SpoolID int64
	EventID string
	SpoolRecord
}
