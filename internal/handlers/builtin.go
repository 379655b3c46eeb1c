package handlers

import (
	"encoding/json"
	"math"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/idempotency"
)

const (
	defaultRecordCount = 100
	defaultDataPoints  = 1000
	outputSizeFactor   = 1.2
)

func dataTransformation(payload map[string]any) (Result, error) {
	count, err := numberField(payload, "record_count", defaultRecordCount)
	if err != nil {
		return nil, err
	}
	return Result{
		"transformed":       true,
		"records_processed": count,
		"output_size":       count * outputSizeFactor,
	}, nil
}

func notification(payload map[string]any, now time.Time) Result {
	recipient, ok := payload["recipient"]
	if !ok {
		recipient = "unknown"
	}
	return Result{
		"sent":      true,
		"recipient": recipient,
		"timestamp": float64(now.UnixNano()) / float64(time.Second),
	}
}

func analytics(payload map[string]any) (Result, error) {
	points, err := numberField(payload, "data_points", defaultDataPoints)
	if err != nil {
		return nil, err
	}
	return Result{
		"analyzed":         true,
		"metrics_computed": []string{"avg", "count", "percentiles"},
		"data_points":      points,
	}, nil
}

// sumOfSquares is the fixed workload of the computation handler.
func sumOfSquares(n int) int {
	total := 0
	for i := range n {
		total += i * i
	}
	return total
}

func computation() Result {
	return Result{
		"computed":         true,
		"result":           sumOfSquares(1000),
		"computation_time": "variable",
	}
}

// fallback accepts any payload and reports its serialized size.
func fallback(payload map[string]any) (Result, error) {
	canonical, err := idempotency.Canonical(payload)
	if err != nil {
		return nil, errors.WrapError(err, errors.CategoryHandler, "payload cannot be serialized").Permanent().Build()
	}
	return Result{
		"processed":    true,
		"payload_size": len(canonical),
	}, nil
}

// numberField reads a numeric payload field, falling back to def when absent.
// A present but non-numeric value is a permanent handler error.
func numberField(payload map[string]any, key string, def float64) (float64, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return def, nil
	}
	var f float64
	switch v := raw.(type) {
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, invalidField(key, raw)
		}
		f = parsed
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, invalidField(key, raw)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalidField(key, raw)
	}
	return f, nil
}

func invalidField(key string, value any) error {
	return errors.HandlerError("payload field must be a number").
		Permanent().
		WithContext("field", key).
		WithContext("value", value).
		Build()
}
