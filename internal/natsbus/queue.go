package natsbus

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/queue"
)

// QueueConfig names the stream and consumer backing a Queue.
type QueueConfig struct {
	Stream            string
	Subject           string
	Consumer          string
	VisibilityTimeout time.Duration
}

// Queue is a work-queue stream consumed through a durable pull consumer.
// The consumer's AckWait plays the role of the visibility timeout.
type Queue struct {
	js       jetstream.JetStream
	subject  string
	consumer jetstream.Consumer

	mu       sync.Mutex
	inflight map[string]jetstream.Msg
}

// NewQueue creates or updates the stream and the durable consumer.
func NewQueue(ctx context.Context, c *Conn, cfg QueueConfig) (*Queue, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        cfg.Stream,
		Description: "Submitted events awaiting processing",
		Subjects:    []string{cfg.Subject},
		Retention:   jetstream.WorkQueuePolicy,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", cfg.Stream, err)
	}

	ackWait := cfg.VisibilityTimeout
	if ackWait <= 0 {
		ackWait = 30 * time.Second
	}
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:       cfg.Consumer,
		FilterSubject: cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure consumer %s: %w", cfg.Consumer, err)
	}

	slog.Info("JetStream queue ready", "stream", cfg.Stream, "subject", cfg.Subject, "consumer", cfg.Consumer)
	return &Queue{
		js:       c.js,
		subject:  cfg.Subject,
		consumer: consumer,
		inflight: make(map[string]jetstream.Msg),
	}, nil
}

func (q *Queue) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	return publish(ctx, q.js, q.subject, body, attrs)
}

// Receive fetches up to limit messages. JetStream fetches are not bound to ctx,
// so a cancellation takes effect once the current wait elapses.
func (q *Queue) Receive(ctx context.Context, limit int, wait time.Duration) ([]queue.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		batch jetstream.MessageBatch
		err   error
	)
	if wait <= 0 {
		batch, err = q.consumer.FetchNoWait(limit)
	} else {
		batch, err = q.consumer.Fetch(limit, jetstream.FetchMaxWait(wait))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryQueue, "fetch failed").Retryable().Build()
	}

	msgs := []queue.Message{}
	for m := range batch.Messages() {
		msgs = append(msgs, q.track(m))
	}
	if err := batch.Error(); err != nil && len(msgs) == 0 {
		return nil, errors.WrapError(err, errors.CategoryQueue, "fetch failed").Retryable().Build()
	}
	return msgs, nil
}

func (q *Queue) track(m jetstream.Msg) queue.Message {
	msg := queue.Message{Body: m.Data(), Attributes: headersToAttrs(m.Headers())}
	if meta, err := m.Metadata(); err == nil {
		msg.ID = messageID(meta.Stream, meta.Sequence.Stream)
		msg.ReceiveCount = int(meta.NumDelivered)
		msg.Receipt = fmt.Sprintf("%s:%d", msg.ID, meta.NumDelivered)
	} else {
		msg.Receipt = m.Reply()
		msg.ID = msg.Receipt
	}

	q.mu.Lock()
	q.inflight[msg.Receipt] = m
	q.mu.Unlock()
	return msg
}

// Delete acknowledges the delivery identified by receipt.
func (q *Queue) Delete(ctx context.Context, receipt string) error {
	q.mu.Lock()
	m, ok := q.inflight[receipt]
	delete(q.inflight, receipt)
	q.mu.Unlock()
	if !ok {
		return queue.ErrUnknownReceipt
	}
	if err := m.DoubleAck(ctx); err != nil {
		return errors.WrapError(err, errors.CategoryQueue, "ack failed").Retryable().Build()
	}
	return nil
}

func (q *Queue) Stats(ctx context.Context) (queue.Stats, error) {
	info, err := q.consumer.Info(ctx)
	if err != nil {
		return queue.Stats{}, errors.WrapError(err, errors.CategoryQueue, "consumer info failed").Retryable().Build()
	}
	return queue.Stats{Depth: int(info.NumPending), InFlight: info.NumAckPending}, nil
}

// Publisher sends messages to a subject captured by its own stream. It is the
// dead-letter destination.
type Publisher struct {
	js      jetstream.JetStream
	subject string
}

// NewPublisher ensures a limits-retention stream for subject.
func NewPublisher(ctx context.Context, c *Conn, stream, subject string) (*Publisher, error) {
	_, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Description: "Events that exhausted their retries",
		Subjects:    []string{subject},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure stream %s: %w", stream, err)
	}
	return &Publisher{js: c.js, subject: subject}, nil
}

func (p *Publisher) Send(ctx context.Context, body []byte, attrs map[string]string) (string, error) {
	return publish(ctx, p.js, p.subject, body, attrs)
}

func publish(ctx context.Context, js jetstream.JetStream, subject string, body []byte, attrs map[string]string) (string, error) {
	msg := nats.NewMsg(subject)
	msg.Data = body
	for k, v := range attrs {
		msg.Header.Set(k, v)
	}
	ack, err := js.PublishMsg(ctx, msg)
	if err != nil {
		return "", errors.WrapError(err, errors.CategoryQueue, "publish failed").
			Retryable().
			WithContext("subject", subject).
			Build()
	}
	return messageID(ack.Stream, ack.Sequence), nil
}

func messageID(stream string, seq uint64) string {
	return stream + "-" + strconv.FormatUint(seq, 10)
}

func headersToAttrs(h nats.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(h))
	for k := range maps.Keys(h) {
		attrs[k] = h.Get(k)
	}
	return attrs
}
