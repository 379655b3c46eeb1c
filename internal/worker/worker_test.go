package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/eventworker/internal/config"
	"git.home.luguber.info/inful/eventworker/internal/deadletter"
	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/handlers"
	"git.home.luguber.info/inful/eventworker/internal/idempotency"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
	"git.home.luguber.info/inful/eventworker/internal/processor"
	"git.home.luguber.info/inful/eventworker/internal/queue"
	"git.home.luguber.info/inful/eventworker/internal/retry"
	"git.home.luguber.info/inful/eventworker/internal/status"
)

type recordingSender struct {
	mu     sync.Mutex
	bodies [][]byte
	err    error
}

func (s *recordingSender) Send(_ context.Context, body []byte, _ map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bodies = append(s.bodies, body)
	if s.err != nil {
		return "", s.err
	}
	return "dlq-msg", nil
}

// countingQueue wraps a MemoryQueue and counts deletes.
type countingQueue struct {
	*queue.MemoryQueue
	deletes atomic.Int32
}

func (q *countingQueue) Delete(ctx context.Context, receipt string) error {
	q.deletes.Add(1)
	return q.MemoryQueue.Delete(ctx, receipt)
}

type harness struct {
	queue  *countingQueue
	store  *status.MemoryStore
	dlq    *recordingSender
	waits  []time.Duration
	worker *Worker
}

func newHarness(t *testing.T, proc Processor, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		queue: &countingQueue{MemoryQueue: queue.NewMemoryQueue(time.Minute)},
		store: status.NewMemoryStore(),
		dlq:   &recordingSender{},
	}
	tracker := status.NewTracker(h.store, nil, "test-worker")
	router := deadletter.NewRouter(tracker, h.queue, deadletter.WithDestination(h.dlq))
	base := []Option{
		WithID("test-worker"),
		WithBatch(10, 0),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.waits = append(h.waits, d)
			return nil
		}),
	}
	h.worker = New(h.queue, proc, tracker, router, append(base, opts...)...)
	return h
}

func (h *harness) submit(t *testing.T, e event.Event) []byte {
	t.Helper()
	require.NoError(t, h.store.Put(t.Context(), event.NewRecord(e)))
	body, err := event.Marshal(e)
	require.NoError(t, err)
	_, err = h.queue.Send(t.Context(), body, map[string]string{queue.AttrEventType: e.Type})
	require.NoError(t, err)
	return body
}

func (h *harness) poll(t *testing.T) []Report {
	t.Helper()
	reports, err := h.worker.PollOnce(t.Context())
	require.NoError(t, err)
	return reports
}

func realProcessor() *processor.Processor {
	return processor.New(idempotency.NewMemoryCache(0), handlers.NewRegistry(), nil)
}

type failingProcessor struct {
	calls atomic.Int32
	err   error
	// succeedOn is the 1-based call that succeeds; 0 never succeeds.
	succeedOn int32
}

func (p *failingProcessor) Process(context.Context, string, map[string]any) (processor.Outcome, error) {
	n := p.calls.Add(1)
	if p.succeedOn != 0 && n == p.succeedOn {
		return processor.Outcome{Result: json.RawMessage(`{"ok":true}`)}, nil
	}
	return processor.Outcome{}, p.err
}

func TestSuccessfulEventCompletesAndDeletes(t *testing.T) {
	h := newHarness(t, realProcessor())
	h.submit(t, event.Event{ID: "e1", Type: "data_transformation", Payload: map[string]any{"record_count": 100}})

	reports := h.poll(t)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Completed)
	assert.Equal(t, 1, reports[0].Attempts)

	rec, err := h.store.Get(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, event.StatusCompleted, rec.Status)
	assert.JSONEq(t, `{"transformed":true,"records_processed":100,"output_size":120}`, string(rec.Result))
	assert.Equal(t, "test-worker", rec.WorkerID)
	assert.False(t, rec.ProcessedAt.IsZero())
	assert.Zero(t, h.queue.Len())
}

// Always-failing processing runs max_retries+1 times with 1,2,4 unit waits,
// then fails the event and forwards the untouched body exactly once.
func TestExhaustionRetriesThenDeadLetters(t *testing.T) {
	proc := &failingProcessor{err: stderrors.New("handler exploded")}
	h := newHarness(t, proc)
	body := h.submit(t, event.Event{ID: "e1", Type: "analytics", Payload: map[string]any{}})

	reports := h.poll(t)
	require.Len(t, reports, 1)
	assert.Equal(t, 4, reports[0].Attempts)
	assert.True(t, reports[0].DeadLettered)

	assert.Equal(t, int32(4), proc.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.waits)

	rec, err := h.store.Get(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, rec.Status)
	assert.Equal(t, "handler exploded", rec.Error)

	require.Len(t, h.dlq.bodies, 1)
	assert.Equal(t, body, h.dlq.bodies[0])
	assert.Equal(t, int32(1), h.queue.deletes.Load())
	assert.Zero(t, h.queue.Len())
}

func TestRetryBoundFollowsPolicy(t *testing.T) {
	for _, maxRetries := range []int{0, 1, 5} {
		proc := &failingProcessor{err: stderrors.New("boom")}
		policy := retry.NewPolicy(config.RetryBackoffExponential, time.Millisecond, time.Second, maxRetries)
		h := newHarness(t, proc, WithPolicy(policy))
		h.submit(t, event.Event{ID: "e", Type: "x", Payload: map[string]any{}})

		h.poll(t)
		assert.Equal(t, int32(maxRetries+1), proc.calls.Load(), "max_retries=%d", maxRetries)
		assert.Len(t, h.waits, maxRetries)
	}
}

func TestRecoversAfterTransientFailures(t *testing.T) {
	proc := &failingProcessor{err: stderrors.New("flaky"), succeedOn: 3}
	h := newHarness(t, proc)
	h.submit(t, event.Event{ID: "e1", Type: "x", Payload: map[string]any{}})

	reports := h.poll(t)
	assert.True(t, reports[0].Completed)
	assert.Equal(t, 3, reports[0].Attempts)
	assert.Empty(t, h.dlq.bodies)

	rec, err := h.store.Get(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, event.StatusCompleted, rec.Status)
}

func classifyingPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Classify = true
	return p
}

func TestPermanentErrorSkipsRetriesWhenClassifying(t *testing.T) {
	proc := &failingProcessor{err: errors.HandlerError("bad payload").Permanent().Build()}
	h := newHarness(t, proc, WithPolicy(classifyingPolicy()))
	h.submit(t, event.Event{ID: "e1", Type: "x", Payload: map[string]any{}})

	reports := h.poll(t)
	assert.Equal(t, 1, reports[0].Attempts)
	assert.True(t, reports[0].DeadLettered)
	assert.Empty(t, h.waits)
	assert.Len(t, h.dlq.bodies, 1)
}

func TestDefaultConfigRetriesEveryError(t *testing.T) {
	policy := retry.FromConfig(config.Default().Retry)
	backoff := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

	t.Run("malformed body", func(t *testing.T) {
		h := newHarness(t, realProcessor(), WithPolicy(policy))
		body := []byte(`{"event_id":"m1","event_type":"x","payload":"oops"}`)
		_, err := h.queue.Send(t.Context(), body, nil)
		require.NoError(t, err)

		reports := h.poll(t)
		require.Len(t, reports, 1)
		assert.Equal(t, 4, reports[0].Attempts)
		assert.Equal(t, backoff, h.waits)
		assert.Equal(t, [][]byte{body}, h.dlq.bodies)
	})

	t.Run("handler field type", func(t *testing.T) {
		h := newHarness(t, realProcessor(), WithPolicy(policy))
		h.submit(t, event.Event{ID: "e1", Type: "data_transformation", Payload: map[string]any{"record_count": "ten"}})

		reports := h.poll(t)
		require.Len(t, reports, 1)
		assert.Equal(t, 4, reports[0].Attempts)
		assert.Equal(t, backoff, h.waits)
		assert.True(t, reports[0].DeadLettered)
	})
}

func TestMalformedMessageKeepsExtractableID(t *testing.T) {
	h := newHarness(t, realProcessor())
	ctx := t.Context()
	require.NoError(t, h.store.Put(ctx, event.Record{EventID: "e9", Status: event.StatusQueued}))

	body := []byte(`{"event_id":"e9","event_type":"x","payload":"not an object"}`)
	_, err := h.queue.Send(ctx, body, nil)
	require.NoError(t, err)

	reports := h.poll(t)
	require.Len(t, reports, 1)
	assert.Equal(t, "e9", reports[0].EventID)
	assert.Equal(t, 4, reports[0].Attempts)

	rec, err := h.store.Get(ctx, "e9")
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "malformed event body")
	assert.Equal(t, [][]byte{body}, h.dlq.bodies)
}

func TestMalformedMessageIsPermanentWhenClassifying(t *testing.T) {
	h := newHarness(t, realProcessor(), WithPolicy(classifyingPolicy()))
	body := []byte(`{"event_id":"e9","event_type":"x","payload":"not an object"}`)
	_, err := h.queue.Send(t.Context(), body, nil)
	require.NoError(t, err)

	reports := h.poll(t)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Attempts)
	assert.Empty(t, h.waits)
	assert.Equal(t, [][]byte{body}, h.dlq.bodies)
}

func TestMalformedMessageWithoutIDIsStillDeadLettered(t *testing.T) {
	h := newHarness(t, realProcessor())

	_, err := h.queue.Send(t.Context(), []byte("%%%"), nil)
	require.NoError(t, err)

	reports := h.poll(t)
	assert.Empty(t, reports[0].EventID)
	assert.Equal(t, 4, reports[0].Attempts)
	assert.Equal(t, [][]byte{[]byte("%%%")}, h.dlq.bodies)
	assert.Empty(t, h.store.Snapshot())
	assert.Zero(t, h.queue.Len())
}

func TestDeadLetterForwardFailureStillDeletes(t *testing.T) {
	h := newHarness(t, &failingProcessor{err: stderrors.New("boom")})
	h.dlq.err = stderrors.New("dlq unavailable")
	h.submit(t, event.Event{ID: "e1", Type: "x", Payload: map[string]any{}})

	h.poll(t)
	assert.Len(t, h.dlq.bodies, 1)
	assert.Equal(t, int32(1), h.queue.deletes.Load())
	assert.Zero(t, h.queue.Len())

	rec, err := h.store.Get(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, event.StatusFailed, rec.Status)
}

func TestIdenticalWorkIsServedFromCache(t *testing.T) {
	h := newHarness(t, realProcessor())
	payload := map[string]any{"data_points": 10}
	h.submit(t, event.Event{ID: "first", Type: "analytics", Payload: payload})
	h.submit(t, event.Event{ID: "second", Type: "analytics", Payload: payload})

	reports := h.poll(t)
	require.Len(t, reports, 2)
	assert.False(t, reports[0].Cached)
	assert.True(t, reports[1].Cached)

	a, err := h.store.Get(t.Context(), "first")
	require.NoError(t, err)
	b, err := h.store.Get(t.Context(), "second")
	require.NoError(t, err)
	assert.Equal(t, a.Result, b.Result)
}

func TestRedeliveryDoesNotOverwriteTerminalStatus(t *testing.T) {
	h := newHarness(t, realProcessor())
	body := h.submit(t, event.Event{ID: "e1", Type: "notification", Payload: map[string]any{}})
	h.poll(t)

	// the transport redelivers a copy after the event completed
	_, err := h.queue.Send(t.Context(), body, nil)
	require.NoError(t, err)
	reports := h.poll(t)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Cached)

	rec, err := h.store.Get(t.Context(), "e1")
	require.NoError(t, err)
	assert.Equal(t, event.StatusCompleted, rec.Status)
}

func TestConcurrentBatchHandling(t *testing.T) {
	h := newHarness(t, realProcessor(), WithConcurrency(4))
	for i := range 10 {
		h.submit(t, event.Event{ID: string(rune('a' + i)), Type: "computation", Payload: map[string]any{"i": i}})
	}

	reports := h.poll(t)
	require.Len(t, reports, 10)
	for _, r := range reports {
		assert.True(t, r.Completed, r.EventID)
	}
	assert.Zero(t, h.queue.Len())
}

type flakyReceiver struct {
	queue.Receiver
	failures atomic.Int32
}

func (r *flakyReceiver) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if r.failures.Add(-1) >= 0 {
		return nil, stderrors.New("connection reset")
	}
	return r.Receiver.Receive(ctx, max, wait)
}

type pollErrorRecorder struct {
	metrics.NoopRecorder
	pollErrors atomic.Int32
}

func (r *pollErrorRecorder) IncQueuePollingErrors() { r.pollErrors.Add(1) }

func TestRunSurvivesReceiveErrorsAndStopsOnCancel(t *testing.T) {
	mq := queue.NewMemoryQueue(time.Minute)
	recv := &flakyReceiver{Receiver: mq}
	recv.failures.Store(2)
	rec := &pollErrorRecorder{}

	store := status.NewMemoryStore()
	tracker := status.NewTracker(store, nil, "w")
	w := New(recv, realProcessor(), tracker, deadletter.NewRouter(tracker, mq),
		WithBatch(10, 10*time.Millisecond),
		WithPollErrorPause(time.Millisecond),
		WithRecorder(rec))

	body, err := event.Marshal(event.Event{ID: "e1", Type: "notification", Payload: map[string]any{}})
	require.NoError(t, err)
	_, err = mq.Send(t.Context(), body, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	assert.Eventually(t, func() bool {
		r, err := store.Get(t.Context(), "e1")
		return err == nil && r.Status == event.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), rec.pollErrors.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

type countingReceiver struct {
	queue.Receiver
	calls atomic.Int32
}

func (r *countingReceiver) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	r.calls.Add(1)
	return r.Receiver.Receive(ctx, max, wait)
}

func TestRunPausesAfterEmptyPollWithZeroWait(t *testing.T) {
	mq := queue.NewMemoryQueue(time.Minute)
	recv := &countingReceiver{Receiver: mq}
	tracker := status.NewTracker(status.NewMemoryStore(), nil, "w")
	w := New(recv, realProcessor(), tracker, deadletter.NewRouter(tracker, mq),
		WithBatch(10, 0),
		WithIdlePause(time.Hour))

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Equal(t, int32(1), recv.calls.Load())
}

type depthRecorder struct {
	metrics.NoopRecorder
	depth atomic.Int64
}

func (r *depthRecorder) SetQueueDepth(n int) { r.depth.Store(int64(n)) }

func TestMaintenanceSamplesDepthAndPrunes(t *testing.T) {
	mq := queue.NewMemoryQueue(time.Minute)
	for range 3 {
		_, err := mq.Send(t.Context(), []byte("x"), nil)
		require.NoError(t, err)
	}
	rec := &depthRecorder{}
	cache := idempotency.NewMemoryCache(time.Nanosecond)
	_, _, err := cache.GetOrCompute(t.Context(), "fp", func(context.Context) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	require.NoError(t, err)

	m, err := NewMaintenance(10 * time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.SampleQueueDepth(mq, rec))
	require.NoError(t, m.PruneCache(cache))
	m.Start()
	defer func() { require.NoError(t, m.Stop()) }()

	assert.Eventually(t, func() bool { return rec.depth.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return cache.Len() == 0 }, 5*time.Second, 5*time.Millisecond)
}

func TestNewMaintenanceRejectsZeroInterval(t *testing.T) {
	_, err := NewMaintenance(0)
	assert.Error(t, err)
}
