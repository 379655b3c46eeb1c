package queue

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	id           string
	body         []byte
	attrs        map[string]string
	receipt      string
	visibleAt    time.Time
	receiveCount int
}

// MemoryQueue is a process-local Queue. Received messages stay hidden for the
// visibility timeout and reappear unless deleted.
type MemoryQueue struct {
	mu                sync.Mutex
	messages          []*memoryMessage
	arrived           chan struct{}
	visibilityTimeout time.Duration
	now               func() time.Time
}

// NewMemoryQueue creates an empty queue. A non-positive visibilityTimeout defaults to 30s.
func NewMemoryQueue(visibilityTimeout time.Duration) *MemoryQueue {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30 * time.Second
	}
	return &MemoryQueue{
		arrived:           make(chan struct{}),
		visibilityTimeout: visibilityTimeout,
		now:               time.Now,
	}
}

func (q *MemoryQueue) Send(_ context.Context, body []byte, attrs map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	m := &memoryMessage{
		id:    uuid.NewString(),
		body:  append([]byte(nil), body...),
		attrs: maps.Clone(attrs),
	}
	q.messages = append(q.messages, m)
	// wake every waiting receiver
	close(q.arrived)
	q.arrived = make(chan struct{})
	return m.id, nil
}

func (q *MemoryQueue) Receive(ctx context.Context, limit int, wait time.Duration) ([]Message, error) {
	if limit <= 0 {
		limit = 1
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		msgs, arrived, nextVisible := q.take(limit)
		if len(msgs) > 0 {
			return msgs, nil
		}

		var expiry *time.Timer
		var expired <-chan time.Time
		if !nextVisible.IsZero() {
			expiry = time.NewTimer(nextVisible.Sub(q.now()))
			expired = expiry.C
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return []Message{}, nil
		case <-arrived:
		case <-expired:
		}
		if expiry != nil {
			expiry.Stop()
		}
	}
}

// take leases up to limit visible messages. When none are visible it returns the
// arrival channel to wait on and the earliest time a leased message reappears.
func (q *MemoryQueue) take(limit int) ([]Message, <-chan struct{}, time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	var nextVisible time.Time
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			if nextVisible.IsZero() || m.visibleAt.Before(nextVisible) {
				nextVisible = m.visibleAt
			}
			continue
		}
		if len(out) == limit {
			break
		}
		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(q.visibilityTimeout)
		m.receiveCount++
		out = append(out, Message{
			ID:           m.id,
			Body:         append([]byte(nil), m.body...),
			Receipt:      m.receipt,
			Attributes:   maps.Clone(m.attrs),
			ReceiveCount: m.receiveCount,
		})
	}
	return out, q.arrived, nextVisible
}

func (q *MemoryQueue) Delete(_ context.Context, receipt string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.messages {
		if m.receipt == receipt && receipt != "" {
			q.messages = append(q.messages[:i], q.messages[i+1:]...)
			return nil
		}
	}
	return ErrUnknownReceipt
}

func (q *MemoryQueue) Stats(context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	var s Stats
	for _, m := range q.messages {
		if m.visibleAt.After(now) {
			s.InFlight++
		} else {
			s.Depth++
		}
	}
	return s, nil
}

// Len returns the number of messages not yet deleted.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
