// Package deadletter terminates messages that exhausted their retries.
package deadletter

import (
	"context"
	"log/slog"
	"maps"

	"git.home.luguber.info/inful/eventworker/internal/journal"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/queue"
)

// AttrFailureReason carries the last error on forwarded messages.
const AttrFailureReason = "failure_reason"

// StatusMarker records the terminal failure of an event.
type StatusMarker interface {
	MarkFailed(ctx context.Context, eventID, reason string)
}

// Spool durably keeps bodies whose forward failed.
type Spool interface {
	Spool(ctx context.Context, eventID string, rec journal.SpoolRecord) (int64, error)
}

// Journal records forwarded messages next to the status history.
type Journal interface {
	Append(ctx context.Context, eventID, entryType string, data any) (int64, error)
}

// Deleter acknowledges messages on the primary queue.
type Deleter interface {
	Delete(ctx context.Context, receipt string) error
}

// Outcome reports what Route did.
type Outcome struct {
	Forwarded bool
	MessageID string
	Spooled   bool
	Deleted   bool
}

// Router marks the event failed, forwards the untouched body to the dead-letter
// destination if one is configured, and always deletes the message from the
// primary queue so an exhausted message is never redelivered from there.
type Router struct {
	status   StatusMarker
	primary  Deleter
	dlq      queue.Sender
	spool    Spool
	journal  Journal
	recorder metrics.Recorder
}

// Option configures a Router.
type Option func(*Router)

// WithDestination enables forwarding to dlq.
func WithDestination(dlq queue.Sender) Option {
	return func(r *Router) { r.dlq = dlq }
}

// WithSpool keeps bodies whose forward failed in spool for a later replay.
func WithSpool(spool Spool) Option {
	return func(r *Router) { r.spool = spool }
}

// WithJournal appends a deadletter.forwarded entry for each forwarded message.
func WithJournal(j Journal) Option {
	return func(r *Router) { r.journal = j }
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Router) { r.recorder = rec }
}

// NewRouter creates a Router without a dead-letter destination.
func NewRouter(status StatusMarker, primary Deleter, opts ...Option) *Router {
	r := &Router{status: status, primary: primary, recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route terminates msg. eventID may be empty when the body could not be parsed;
// the status update is then skipped but the message is still forwarded and deleted.
func (r *Router) Route(ctx context.Context, msg queue.Message, eventID string, cause error) Outcome {
	reason := "unknown error"
	if cause != nil {
		reason = cause.Error()
	}
	log := slog.With(logfields.EventID(eventID), logfields.MessageID(msg.ID))

	r.status.MarkFailed(ctx, eventID, reason)

	var out Outcome
	switch {
	case r.dlq == nil:
		r.recorder.IncDeadLetter(metrics.DeadLetterDisabled)
	default:
		attrs := maps.Clone(msg.Attributes)
		if attrs == nil {
			attrs = make(map[string]string, 1)
		}
		attrs[AttrFailureReason] = reason

		id, err := r.dlq.Send(ctx, msg.Body, attrs)
		if err == nil {
			out.Forwarded = true
			out.MessageID = id
			r.recorder.IncDeadLetter(metrics.DeadLetterForwarded)
			log.Info("Forwarded to dead-letter destination", "dead_letter_message_id", id)
			r.journalForward(ctx, eventID, id, reason)
			break
		}
		log.Error("Dead-letter forward failed", logfields.Error(err))
		out.Spooled = r.spoolBody(ctx, msg, eventID, attrs, err)
	}

	if err := r.primary.Delete(ctx, msg.Receipt); err != nil {
		log.Error("Failed to delete exhausted message", logfields.Error(err))
	} else {
		out.Deleted = true
	}
	return out
}

func (r *Router) journalForward(ctx context.Context, eventID, messageID, reason string) {
	if r.journal == nil || eventID == "" {
		return
	}
	data := map[string]string{"dead_letter_message_id": messageID, "reason": reason}
	if _, err := r.journal.Append(ctx, eventID, journal.TypeDeadLetterForwarded, data); err != nil {
		slog.Warn("Journal append failed", logfields.EventID(eventID), logfields.Error(err))
	}
}

func (r *Router) spoolBody(ctx context.Context, msg queue.Message, eventID string, attrs map[string]string, forwardErr error) bool {
	if r.spool == nil {
		r.recorder.IncDeadLetter(metrics.DeadLetterLost)
		slog.Warn("No dead-letter spool configured, message body dropped", logfields.EventID(eventID))
		return false
	}
	id, err := r.spool.Spool(ctx, eventID, journal.SpoolRecord{Body: msg.Body, Attributes: attrs, Reason: forwardErr.Error()})
	if err != nil {
		r.recorder.IncDeadLetter(metrics.DeadLetterLost)
		slog.Error("Dead-letter spool failed, message body dropped", logfields.EventID(eventID), logfields.Error(err))
		return false
	}
	r.recorder.IncDeadLetter(metrics.DeadLetterSpooled)
	slog.Warn("Spooled message body for dead-letter replay", logfields.EventID(eventID), "spool_id", id)
	return true
}
