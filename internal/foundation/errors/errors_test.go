package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifiedError(t *testing.T) {
	t.Run("Basic error creation", func(t *testing.T) {
		err := NewError(CategoryConfig, "invalid configuration").
			WithSeverity(SeverityFatal).
			WithContext("file", "eventworker.yaml").
			Build()

		assert.Equal(t, CategoryConfig, err.Category())
		assert.Equal(t, SeverityFatal, err.Severity())
		assert.Equal(t, "invalid configuration", err.Message())

		file, exists := err.Context().GetString("file")
		require.True(t, exists)
		assert.Equal(t, "eventworker.yaml", file)
	})

	t.Run("Unclassified errors have no retry opinion", func(t *testing.T) {
		err := errors.New("boom")
		assert.False(t, IsClassified(err))
		assert.Equal(t, RetryUnknown, GetRetryStrategy(err))
		assert.False(t, IsPermanent(err))
		assert.Equal(t, CategoryInternal, GetCategory(err))
	})

	t.Run("Classification survives fmt wrapping", func(t *testing.T) {
		inner := HandlerError("bad field").Permanent().Build()
		wrapped := fmt.Errorf("dispatch: %w", inner)

		assert.True(t, IsClassified(wrapped))
		assert.True(t, IsPermanent(wrapped))
		assert.True(t, HasCategory(wrapped, CategoryHandler))
	})
}

func TestErrorBuilder(t *testing.T) {
	t.Run("Fluent API", func(t *testing.T) {
		originalErr := errors.New("connection reset")
		err := WrapError(originalErr, CategoryQueue, "receive failed").
			Warning().
			Retryable().
			WithContext("queue", "events").
			Build()

		assert.Equal(t, CategoryQueue, err.Category())
		assert.Equal(t, SeverityWarning, err.Severity())
		assert.Equal(t, RetryBackoff, err.RetryStrategy())
		assert.True(t, errors.Is(err, originalErr))
		assert.True(t, err.CanRetry())
		assert.False(t, err.IsPermanent())
	})

	t.Run("Convenience constructors", func(t *testing.T) {
		assert.True(t, ParseError("x").Build().IsPermanent())
		assert.True(t, ValidationError("x").Build().IsPermanent())
		assert.True(t, ConfigError("x").Build().IsFatal())
		assert.True(t, QueueError("x").Build().CanRetry())
		assert.Equal(t, RetryUnknown, HandlerError("x").Build().RetryStrategy())
	})

	t.Run("WithContext copies", func(t *testing.T) {
		base := NotFoundError("event not found").Build()
		withID := base.WithContext("event_id", "e-1")

		_, exists := base.Context().Get("event_id")
		assert.False(t, exists)
		id, _ := withID.Context().GetString("event_id")
		assert.Equal(t, "e-1", id)
		assert.True(t, errors.Is(withID, base))
	})
}

func TestErrorContextMerge(t *testing.T) {
	a := ErrorContext{"a": 1, "b": 1}
	b := ErrorContext{"b": 2}
	merged := a.Merge(b)

	assert.Equal(t, 1, merged["a"])
	assert.Equal(t, 2, merged["b"])
	assert.Equal(t, 1, a["b"])

	var nilCtx ErrorContext
	assert.Equal(t, b, nilCtx.Merge(b))
}
