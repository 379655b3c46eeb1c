// Package idempotency maps event fingerprints to previously computed results so
// redelivered or duplicated work never reruns a handler.
package idempotency

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// ComputeFunc produces the result for a fingerprint that has none stored yet.
type ComputeFunc func(ctx context.Context) (json.RawMessage, error)

// Cache returns the stored result for a fingerprint or computes and stores one.
// hit reports whether compute was skipped.
type Cache interface {
	GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (result json.RawMessage, hit bool, err error)
}

// ErrMiss is returned by Store.Load when no result is stored.
var ErrMiss = stderrors.New("idempotency: no stored result")

// Store is a shared keyed store with an insert-if-absent primitive. It backs
// caches that must deduplicate across worker processes and restarts.
type Store interface {
	Load(ctx context.Context, fingerprint string) (json.RawMessage, error)
	// StoreIfAbsent writes result unless a value exists and returns the value
	// that is stored afterwards, which is the earlier one on conflict.
	StoreIfAbsent(ctx context.Context, fingerprint string, result json.RawMessage) (json.RawMessage, error)
}

// SharedCache implements Cache on top of a Store. Two processes computing the
// same fingerprint at once may both run compute; the first write wins and both
// return the stored value, so callers converge on one result.
type SharedCache struct {
	store Store
}

// NewSharedCache wraps store.
func NewSharedCache(store Store) *SharedCache {
	return &SharedCache{store: store}
}

func (c *SharedCache) GetOrCompute(ctx context.Context, fingerprint string, compute ComputeFunc) (json.RawMessage, bool, error) {
	stored, err := c.store.Load(ctx, fingerprint)
	switch {
	case err == nil:
		return stored, true, nil
	case !stderrors.Is(err, ErrMiss):
		return nil, false, errors.WrapError(err, errors.CategoryIdempotency, "idempotency lookup failed").
			Retryable().
			WithContext("fingerprint", fingerprint).
			Build()
	}

	result, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}

	winner, err := c.store.StoreIfAbsent(ctx, fingerprint, result)
	if err != nil {
		return nil, false, errors.WrapError(err, errors.CategoryIdempotency, "idempotency store failed").
			Retryable().
			WithContext("fingerprint", fingerprint).
			Build()
	}
	return winner, false, nil
}
