// Package ingest accepts event submissions: it assigns ids, records the queued
// status and enqueues the event for the worker.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/queue"
	"git.home.luguber.info/inful/eventworker/internal/status"
)

// Request is a submission as received from a client.
type Request struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Priority  *int            `json:"priority,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// HealthFunc reports whether the queue backend is reachable.
type HealthFunc func(ctx context.Context) error

// Service submits events and answers status queries.
type Service struct {
	queue    queue.Sender
	store    status.Store
	stats    queue.StatsReporter
	health   HealthFunc
	recorder metrics.Recorder
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithStats enables Stats using reporter.
func WithStats(reporter queue.StatsReporter) Option {
	return func(s *Service) { s.stats = reporter }
}

// WithHealthCheck sets the probe used by Healthy.
func WithHealthCheck(fn HealthFunc) Option {
	return func(s *Service) { s.health = fn }
}

func WithRecorder(rec metrics.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator replaces uuid generation, mainly for tests.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates a Service sending to q and recording status in store.
func New(q queue.Sender, store status.Store, opts ...Option) *Service {
	s := &Service{
		queue:    q,
		store:    store,
		recorder: metrics.NoopRecorder{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates req, writes the queued record and sends the event.
//
// The queued record is written before the send so a fast worker's processing
// mark can never be overwritten by it. A failed send marks the record failed.
func (s *Service) Submit(ctx context.Context, req Request) (event.Event, error) {
	ev, err := s.build(req)
	if err != nil {
		s.recorder.IncEventErrors()
		return event.Event{}, err
	}

	if err := s.store.Put(ctx, event.NewRecord(ev)); err != nil {
		s.recorder.IncEventErrors()
		return event.Event{}, errors.WrapError(err, errors.CategoryStatusStore, "record queued status").
			WithContext("event_id", ev.ID).
			Retryable().
			Build()
	}

	body, err := event.Marshal(ev)
	if err != nil {
		s.recorder.IncEventErrors()
		return event.Event{}, errors.WrapError(err, errors.CategoryInternal, "encode event").Build()
	}

	messageID, err := s.queue.Send(ctx, body, map[string]string{
		queue.AttrEventType: ev.Type,
		queue.AttrPriority:  strconv.Itoa(ev.Priority),
	})
	if err != nil {
		s.recorder.IncEventErrors()
		if _, uerr := s.store.Update(ctx, ev.ID, event.Failed("enqueue failed: "+err.Error(), s.now().UTC())); uerr != nil {
			slog.Warn("Failed to mark unsent event as failed", logfields.EventID(ev.ID), logfields.Error(uerr))
		}
		return event.Event{}, errors.WrapError(err, errors.CategoryQueue, "enqueue event").
			WithContext("event_id", ev.ID).
			Retryable().
			Build()
	}

	if _, err := s.store.Update(ctx, ev.ID, event.Patch{MessageID: messageID}); err != nil {
		slog.Warn("Failed to record message id", logfields.EventID(ev.ID), logfields.MessageID(messageID), logfields.Error(err))
	}

	s.recorder.IncEventsSubmitted()
	slog.Info("Event submitted",
		logfields.EventID(ev.ID),
		logfields.EventType(ev.Type),
		logfields.MessageID(messageID))
	return ev, nil
}

func (s *Service) build(req Request) (event.Event, error) {
	if req.EventType == "" {
		return event.Event{}, errors.ValidationError("event_type is required").Build()
	}
	payload, err := decodePayload(req.Payload)
	if err != nil {
		return event.Event{}, err
	}
	priority := event.DefaultPriority
	if req.Priority != nil {
		priority = *req.Priority
	}
	return event.Event{
		ID:          s.newID(),
		Type:        req.EventType,
		Payload:     payload,
		Priority:    priority,
		Metadata:    req.Metadata,
		Status:      event.StatusQueued,
		SubmittedAt: s.now().UTC(),
	}, nil
}

// decodePayload requires a JSON object. Numbers stay json.Number so the
// fingerprint sees the client's literal.
func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errors.ValidationError("payload must be a JSON object").Build()
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.WrapError(err, errors.CategoryValidation, "payload must be a JSON object").Build()
	}
	return payload, nil
}

// Get returns the status record of eventID.
func (s *Service) Get(ctx context.Context, eventID string) (event.Record, error) {
	return s.store.Get(ctx, eventID)
}

// ErrStatsUnavailable is returned by Stats when the queue cannot report depth.
var ErrStatsUnavailable = errors.QueueError("queue statistics unavailable").Build()

// Stats returns the current queue depth.
func (s *Service) Stats(ctx context.Context) (queue.Stats, error) {
	if s.stats == nil {
		return queue.Stats{}, ErrStatsUnavailable
	}
	st, err := s.stats.Stats(ctx)
	if err != nil {
		return queue.Stats{}, errors.WrapError(err, errors.CategoryQueue, "read queue statistics").Retryable().Build()
	}
	return st, nil
}

// Healthy probes the queue backend. Without a probe the service is healthy.
func (s *Service) Healthy(ctx context.Context) error {
	if s.health == nil {
		return nil
	}
	return s.health(ctx)
}
