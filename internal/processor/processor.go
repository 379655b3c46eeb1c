// Package processor combines fingerprinting, the idempotency cache and handler
// dispatch into one deterministic Process call.
package processor

import (
	"context"
	"encoding/json"
	"log/slog"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/handlers"
	"git.home.luguber.info/inful/eventworker/internal/idempotency"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/metrics"
)

// Dispatcher computes a result for an event type and payload.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType string, payload map[string]any) (handlers.Result, error)
}

// Outcome is the result of processing one event.
type Outcome struct {
	Result      json.RawMessage
	Fingerprint string
	Cached      bool
}

// Processor returns a cached result or computes and caches a new one.
type Processor struct {
	cache    idempotency.Cache
	dispatch Dispatcher
	recorder metrics.Recorder
}

// New creates a Processor. A nil recorder disables metrics.
func New(cache idempotency.Cache, dispatch Dispatcher, recorder metrics.Recorder) *Processor {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &Processor{cache: cache, dispatch: dispatch, recorder: recorder}
}

// Process returns the result for (eventType, payload). Identical arguments
// always yield byte-identical results: the first computation is serialized
// canonically and every later call is served from the cache.
func (p *Processor) Process(ctx context.Context, eventType string, payload map[string]any) (Outcome, error) {
	fp, err := idempotency.Fingerprint(eventType, payload)
	if err != nil {
		return Outcome{}, errors.WrapError(err, errors.CategoryParse, "payload cannot be fingerprinted").
			Permanent().
			WithContext("event_type", eventType).
			Build()
	}

	result, hit, err := p.cache.GetOrCompute(ctx, fp, func(ctx context.Context) (json.RawMessage, error) {
		res, err := p.dispatch.Dispatch(ctx, eventType, payload)
		if err != nil {
			return nil, err
		}
		encoded, err := idempotency.Canonical(res)
		if err != nil {
			return nil, errors.WrapError(err, errors.CategoryHandler, "handler result cannot be serialized").
				Permanent().
				Build()
		}
		return encoded, nil
	})
	if err != nil {
		return Outcome{Fingerprint: fp}, err
	}

	if hit {
		p.recorder.IncIdempotencyLookup(metrics.LookupHit)
		slog.Debug("Served from idempotency cache", logfields.EventType(eventType), logfields.Fingerprint(fp))
	} else {
		p.recorder.IncIdempotencyLookup(metrics.LookupMiss)
	}
	return Outcome{Result: result, Fingerprint: fp, Cached: hit}, nil
}
