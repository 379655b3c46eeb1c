// Package worker runs the consumption loop: receive a batch, process each
// message with retries, then complete it or hand it to the dead-letter router.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/eventworker/internal/deadletter"
	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/processor"
	"git.home.luguber.info/inful/eventworker/internal/queue"
	"git.home.luguber.info/inful/eventworker/internal/retry"
)

// Processor computes (or recalls) the result of an event.
type Processor interface {
	Process(ctx context.Context, eventType string, payload map[string]any) (processor.Outcome, error)
}

// Tracker records non-terminal and successful transitions. Failures are
// recorded by the dead-letter router.
type Tracker interface {
	MarkProcessing(ctx context.Context, eventID string)
	MarkCompleted(ctx context.Context, eventID string, result json.RawMessage)
}

// Router terminates exhausted messages.
type Router interface {
	Route(ctx context.Context, msg queue.Message, eventID string, cause error) deadletter.Outcome
}

// Report summarizes the handling of one message.
type Report struct {
	EventID      string
	Attempts     int
	Completed    bool
	DeadLettered bool
	Cached       bool
	Err          error
}

// Worker consumes one queue.
type Worker struct {
	id             string
	receiver       queue.Receiver
	processor      Processor
	tracker        Tracker
	router         Router
	policy         retry.Policy
	batchSize      int
	wait           time.Duration
	pollErrorPause time.Duration
	idlePause      time.Duration
	concurrency    int
	recorder       metrics.Recorder
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
	active         atomic.Int64
}

// Option configures a Worker.
type Option func(*Worker)

func WithID(id string) Option { return func(w *Worker) { w.id = id } }

func WithPolicy(p retry.Policy) Option { return func(w *Worker) { w.policy = p } }

// WithBatch sets the receive batch size and long-poll wait.
func WithBatch(size int, wait time.Duration) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
		w.wait = wait
	}
}

// WithPollErrorPause sets the pause after a failed receive.
func WithPollErrorPause(d time.Duration) Option { return func(w *Worker) { w.pollErrorPause = d } }

// WithIdlePause sets the pause after an empty receive when the long-poll wait is zero.
func WithIdlePause(d time.Duration) Option { return func(w *Worker) { w.idlePause = d } }

// WithConcurrency handles up to n messages of a batch at once. The default of 1
// processes a batch sequentially.
func WithConcurrency(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.concurrency = n
		}
	}
}

func WithRecorder(r metrics.Recorder) Option { return func(w *Worker) { w.recorder = r } }

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = fn }
}

// New creates a Worker with the default retry policy and a batch of 10 messages
// polled for up to 20 seconds.
func New(receiver queue.Receiver, proc Processor, tracker Tracker, router Router, opts ...Option) *Worker {
	w := &Worker{
		id:             "worker",
		receiver:       receiver,
		processor:      proc,
		tracker:        tracker,
		router:         router,
		policy:         retry.DefaultPolicy(),
		batchSize:      10,
		wait:           20 * time.Second,
		pollErrorPause: 5 * time.Second,
		idlePause:      time.Second,
		concurrency:    1,
		recorder:       metrics.NoopRecorder{},
		sleep:          sleepContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until ctx is canceled. Cancellation stops fetching new batches;
// messages already received are handled to completion, retries included.
// Receive errors never end the loop.
func (w *Worker) Run(ctx context.Context) error {
	log := slog.With(logfields.Worker(w.id))
	log.Info("Worker started",
		logfields.BatchSize(w.batchSize),
		logfields.MaxRetries(w.policy.MaxRetries),
		"concurrency", w.concurrency)

	for {
		if ctx.Err() != nil {
			log.Info("Worker stopped")
			return nil
		}
		reports, err := w.PollOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			w.recorder.IncQueuePollingErrors()
			log.Error("Queue polling failed", logfields.Error(err), "pause", w.pollErrorPause)
			_ = sleepContext(ctx, w.pollErrorPause)
		case len(reports) == 0 && w.wait <= 0:
			// A zero wait returns immediately from an empty queue.
			_ = sleepContext(ctx, w.idlePause)
		}
	}
}

// PollOnce receives one batch and handles every message in it.
func (w *Worker) PollOnce(ctx context.Context) ([]Report, error) {
	msgs, err := w.receiver.Receive(ctx, w.batchSize, w.wait)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	slog.Debug("Received batch", logfields.Worker(w.id), logfields.BatchSize(len(msgs)))
	return w.handleBatch(context.WithoutCancel(ctx), msgs), nil
}

func (w *Worker) handleBatch(ctx context.Context, msgs []queue.Message) []Report {
	reports := make([]Report, len(msgs))
	if w.concurrency <= 1 {
		for i, msg := range msgs {
			reports[i] = w.HandleMessage(ctx, msg)
		}
		return reports
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i, msg := range msgs {
		g.Go(func() error {
			reports[i] = w.HandleMessage(ctx, msg)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// HandleMessage processes one delivery: parse, mark processing, then attempt
// processing until it succeeds or the retry policy gives up. A message that
// fails to parse counts as a failed attempt 0 and follows the same path.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) Report {
	w.recorder.SetActiveWorkers(int(w.active.Add(1)))
	defer func() { w.recorder.SetActiveWorkers(int(w.active.Add(-1))) }()

	start := w.now()
	defer func() { w.recorder.ObserveProcessingLatency(w.now().Sub(start)) }()

	ev, parseErr := event.Parse(msg.Body)
	report := Report{EventID: ev.ID}
	log := slog.With(logfields.Worker(w.id), logfields.MessageID(msg.ID), logfields.EventID(ev.ID))
	if parseErr != nil {
		log.Warn("Malformed message", logfields.Error(parseErr))
	} else {
		log = log.With(logfields.EventType(ev.Type))
		w.tracker.MarkProcessing(ctx, ev.ID)
	}

	for attempt := 0; ; attempt++ {
		report.Attempts = attempt + 1

		var outcome processor.Outcome
		err := parseErr
		if err == nil {
			outcome, err = w.processor.Process(ctx, ev.Type, ev.Payload)
		}
		if err == nil {
			w.complete(ctx, log, msg, ev.ID, outcome)
			report.Completed = true
			report.Cached = outcome.Cached
			return report
		}

		decision := w.policy.Next(attempt, err)
		if !decision.Retry {
			report.Err = err
			report.DeadLettered = true
			log.Error("Processing failed, routing to dead-letter",
				logfields.Attempt(attempt+1),
				logfields.MaxRetries(w.policy.MaxRetries),
				"permanent", decision.Permanent,
				logfields.Error(err))
			w.router.Route(ctx, msg, ev.ID, err)
			w.recorder.IncEventsProcessed(metrics.ProcessedFailed)
			return report
		}

		w.recorder.IncRetryAttempts()
		log.Warn("Processing failed, retrying",
			logfields.Attempt(attempt+1),
			logfields.MaxRetries(w.policy.MaxRetries),
			logfields.Delay(decision.Delay),
			logfields.Error(err))
		if err := w.sleep(ctx, decision.Delay); err != nil {
			// only reachable when the caller's context is canceled
			report.Err = err
			return report
		}
	}
}

func (w *Worker) complete(ctx context.Context, log *slog.Logger, msg queue.Message, eventID string, outcome processor.Outcome) {
	w.tracker.MarkCompleted(ctx, eventID, outcome.Result)
	if err := w.receiver.Delete(ctx, msg.Receipt); err != nil {
		// the message will be redelivered and served from the idempotency cache
		log.Error("Failed to delete completed message", logfields.Error(err))
	}
	w.recorder.IncEventsProcessed(metrics.ProcessedSuccess)
	log.Info("Event processed", logfields.Fingerprint(outcome.Fingerprint), "cached", outcome.Cached)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
