// Package handlers turns an event type and payload into a result document.
//
// Event types form a tagged set: the built-in kinds are dispatched by one switch
// with an explicit default arm, and extra types can be bound when the Registry is
// constructed. Nothing is registered after construction.
package handlers

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/logfields"
)

// Kind identifies a built-in handler variant.
type Kind string

const (
	KindDataTransformation Kind = "data_transformation"
	KindNotification       Kind = "notification"
	KindAnalytics          Kind = "analytics"
	KindComputation        Kind = "computation"
	// KindDefault handles every type without a dedicated variant.
	KindDefault Kind = "default"
)

// KindOf maps an event type onto its built-in variant.
func KindOf(eventType string) Kind {
	switch Kind(eventType) {
	case KindDataTransformation, KindNotification, KindAnalytics, KindComputation:
		return Kind(eventType)
	default:
		return KindDefault
	}
}

// Result is the structured output of a handler.
type Result map[string]any

// Func is an extension handler bound to an event type at construction.
type Func func(ctx context.Context, payload map[string]any) (Result, error)

// latency bounds the simulated work time of a variant.
type latency struct{ min, max time.Duration }

var simulatedLatency = map[Kind]latency{
	KindDataTransformation: {100 * time.Millisecond, 500 * time.Millisecond},
	KindNotification:       {50 * time.Millisecond, 200 * time.Millisecond},
	KindAnalytics:          {200 * time.Millisecond, 800 * time.Millisecond},
	KindComputation:        {500 * time.Millisecond, 1500 * time.Millisecond},
	KindDefault:            {100 * time.Millisecond, 300 * time.Millisecond},
}

// Registry dispatches events to handlers. It is safe for concurrent use.
type Registry struct {
	extensions map[string]Func
	now        func() time.Time
	simulate   bool
	sleep      func(ctx context.Context, d time.Duration) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the clock used for timestamps in results.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithSimulatedLatency makes every variant sleep for a random duration within
// its bounds before returning, emulating real work.
func WithSimulatedLatency(enabled bool) Option {
	return func(r *Registry) { r.simulate = enabled }
}

// WithHandler binds an extension handler to eventType. Extensions take
// precedence over built-in kinds.
func WithHandler(eventType string, fn Func) Option {
	return func(r *Registry) { r.extensions[eventType] = fn }
}

// NewRegistry creates a registry with the built-in variants.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		extensions: make(map[string]Func),
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dispatch runs the handler for eventType.
func (r *Registry) Dispatch(ctx context.Context, eventType string, payload map[string]any) (Result, error) {
	if fn, ok := r.extensions[eventType]; ok {
		return fn(ctx, payload)
	}

	kind := KindOf(eventType)
	if err := r.simulateWork(ctx, kind); err != nil {
		return nil, err
	}

	switch kind {
	case KindDataTransformation:
		return dataTransformation(payload)
	case KindNotification:
		return notification(payload, r.now()), nil
	case KindAnalytics:
		return analytics(payload)
	case KindComputation:
		return computation(), nil
	default:
		slog.Debug("No dedicated handler, using default", logfields.EventType(eventType))
		return fallback(payload)
	}
}

func (r *Registry) simulateWork(ctx context.Context, kind Kind) error {
	if !r.simulate {
		return nil
	}
	l := simulatedLatency[kind]
	d := l.min + rand.N(l.max-l.min)
	return r.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
