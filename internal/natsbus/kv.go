package natsbus

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/idempotency"
	"git.home.luguber.info/inful/eventworker/internal/status"
)

// maxCASAttempts bounds optimistic update retries under contention.
const maxCASAttempts = 8

// StatusStore keeps status records in a KV bucket keyed by event id. Updates
// use the entry revision for compare-and-set, so each call is atomic.
type StatusStore struct {
	kv  jetstream.KeyValue
	now func() time.Time
}

// NewStatusStore opens or creates bucket.
func NewStatusStore(ctx context.Context, c *Conn, bucket string) (*StatusStore, error) {
	kv, err := c.keyValue(ctx, bucket, "Event status records")
	if err != nil {
		return nil, err
	}
	return &StatusStore{kv: kv, now: time.Now}, nil
}

func (s *StatusStore) Put(ctx context.Context, rec event.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	for range maxCASAttempts {
		current, rev, err := s.load(ctx, rec.EventID)
		switch {
		case stderrors.Is(err, status.ErrNotFound):
			_, err = s.kv.Create(ctx, rec.EventID, data)
		case err != nil:
			return err
		case current.Status.IsTerminal():
			return event.ErrTerminalStatus.WithContext("event_id", rec.EventID)
		default:
			_, err = s.kv.Update(ctx, rec.EventID, data, rev)
		}
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return storeError(err, "write status")
		}
	}
	return errors.StatusStoreError("status write contention").WithContext("event_id", rec.EventID).Build()
}

func (s *StatusStore) Update(ctx context.Context, eventID string, patch event.Patch) (event.Record, error) {
	for range maxCASAttempts {
		rec, rev, err := s.load(ctx, eventID)
		missing := stderrors.Is(err, status.ErrNotFound)
		if err != nil && !missing {
			return event.Record{}, err
		}
		if missing {
			rec = event.Record{EventID: eventID}
		}
		if err := rec.Apply(patch, s.now()); err != nil {
			return rec, err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return rec, fmt.Errorf("marshal status record: %w", err)
		}
		if missing {
			_, err = s.kv.Create(ctx, eventID, data)
		} else {
			_, err = s.kv.Update(ctx, eventID, data, rev)
		}
		if err == nil {
			return rec, nil
		}
		if !isConflict(err) {
			return rec, storeError(err, "write status")
		}
	}
	return event.Record{}, errors.StatusStoreError("status write contention").WithContext("event_id", eventID).Build()
}

func (s *StatusStore) Get(ctx context.Context, eventID string) (event.Record, error) {
	rec, _, err := s.load(ctx, eventID)
	return rec, err
}

func (s *StatusStore) load(ctx context.Context, eventID string) (event.Record, uint64, error) {
	entry, err := s.kv.Get(ctx, eventID)
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return event.Record{}, 0, status.ErrNotFound.WithContext("event_id", eventID)
	}
	if err != nil {
		return event.Record{}, 0, storeError(err, "read status")
	}
	var rec event.Record
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return event.Record{}, 0, errors.WrapError(err, errors.CategoryStatusStore, "decode status record").Build()
	}
	return rec, entry.Revision(), nil
}

// IdempotencyStore keeps computed results in a KV bucket keyed by fingerprint.
// KV Create is the insert-if-absent primitive.
type IdempotencyStore struct {
	kv jetstream.KeyValue
}

// NewIdempotencyStore opens or creates bucket.
func NewIdempotencyStore(ctx context.Context, c *Conn, bucket string) (*IdempotencyStore, error) {
	kv, err := c.keyValue(ctx, bucket, "Event results by fingerprint")
	if err != nil {
		return nil, err
	}
	return &IdempotencyStore{kv: kv}, nil
}

func (s *IdempotencyStore) Load(ctx context.Context, fingerprint string) (json.RawMessage, error) {
	entry, err := s.kv.Get(ctx, fingerprint)
	if stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, idempotency.ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(entry.Value()), nil
}

func (s *IdempotencyStore) StoreIfAbsent(ctx context.Context, fingerprint string, result json.RawMessage) (json.RawMessage, error) {
	_, err := s.kv.Create(ctx, fingerprint, result)
	if err == nil {
		return result, nil
	}
	if stderrors.Is(err, jetstream.ErrKeyExists) {
		return s.Load(ctx, fingerprint)
	}
	return nil, err
}

// isConflict reports a failed compare-and-set.
func isConflict(err error) bool {
	if stderrors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	var apiErr *jetstream.APIError
	return stderrors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func storeError(err error, msg string) error {
	return errors.WrapError(err, errors.CategoryStatusStore, msg).Retryable().Build()
}
