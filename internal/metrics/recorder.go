package metrics

import "time"

// ProcessedLabel enumerates terminal outcomes for processed events.
type ProcessedLabel string

const (
	ProcessedSuccess ProcessedLabel = "success"
	ProcessedFailed  ProcessedLabel = "failed"
)

// DeadLetterLabel enumerates what happened to an exhausted message.
type DeadLetterLabel string

const (
	DeadLetterForwarded DeadLetterLabel = "forwarded"
	DeadLetterSpooled   DeadLetterLabel = "spooled"
	DeadLetterLost      DeadLetterLabel = "lost"
	DeadLetterDisabled  DeadLetterLabel = "disabled"
	DeadLetterReplayed  DeadLetterLabel = "replayed"
)

// LookupLabel enumerates idempotency cache lookup results.
type LookupLabel string

const (
	LookupHit  LookupLabel = "hit"
	LookupMiss LookupLabel = "miss"
)

// Recorder defines observability hooks for the worker and the ingestion API.
// Implementations may forward to Prometheus, OpenTelemetry, etc. All methods
// must be safe for concurrent use.
type Recorder interface {
	IncEventsProcessed(result ProcessedLabel)
	ObserveProcessingLatency(d time.Duration)
	IncQueuePollingErrors()
	SetActiveWorkers(n int)
	IncRetryAttempts()
	IncDeadLetter(outcome DeadLetterLabel)
	IncIdempotencyLookup(result LookupLabel)
	SetQueueDepth(n int)

	IncAPIRequest(method, endpoint string, status int)
	ObserveAPILatency(endpoint string, d time.Duration)
	IncEventsSubmitted()
	IncEventErrors()
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) IncEventsProcessed(ProcessedLabel)              {}
func (NoopRecorder) ObserveProcessingLatency(time.Duration)         {}
func (NoopRecorder) IncQueuePollingErrors()                         {}
func (NoopRecorder) SetActiveWorkers(int)                           {}
func (NoopRecorder) IncRetryAttempts()                              {}
func (NoopRecorder) IncDeadLetter(DeadLetterLabel)                  {}
func (NoopRecorder) IncIdempotencyLookup(LookupLabel)               {}
func (NoopRecorder) SetQueueDepth(int)                              {}
func (NoopRecorder) IncAPIRequest(string, string, int)              {}
func (NoopRecorder) ObserveAPILatency(string, time.Duration)        {}
func (NoopRecorder) IncEventsSubmitted()                            {}
func (NoopRecorder) IncEventErrors()                                {}
