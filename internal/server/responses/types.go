// Package responses defines API response types used by the ingestion API handlers.
package responses

import (
	"encoding/json"
	"time"
)

// SubmitResponse acknowledges an accepted submission.
type SubmitResponse struct {
	EventID   string    `json:"event_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// EventStatusResponse is the public view of a status record.
type EventStatusResponse struct {
	EventID     string          `json:"event_id"`
	Status      string          `json:"status"`
	EventType   string          `json:"event_type,omitempty"`
	SubmittedAt *time.Time      `json:"submitted_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// StatsResponse reports queue depth.
type StatsResponse struct {
	QueueDepth       int       `json:"queue_depth"`
	MessagesInFlight int       `json:"messages_in_flight"`
	Timestamp        time.Time `json:"timestamp"`
}

// HealthResponse represents the health check API response.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    float64   `json:"uptime"`
	Error     string    `json:"error,omitempty"`
}
