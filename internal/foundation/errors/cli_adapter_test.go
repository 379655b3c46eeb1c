package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"
)

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: 0},
		{name: "validation", err: ValidationError("invalid input").Build(), expected: 2},
		{name: "not found", err: NotFoundError("no such event").Build(), expected: 3},
		{name: "config", err: ConfigError("bad config").Build(), expected: 7},
		{name: "queue", err: QueueError("nats down").Build(), expected: 8},
		{name: "wrapped status store", err: fmt.Errorf("status: %w", StatusStoreError("locked").Build()), expected: 8},
		{name: "unclassified", err: errors.New("unknown"), expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	err := WrapError(errors.New("dial tcp: refused"), CategoryQueue, "connect to queue").Build()

	quiet := NewCLIErrorAdapter(false, slog.Default())
	if got := quiet.FormatError(err); got != "Error: connect to queue" {
		t.Errorf("quiet FormatError() = %q", got)
	}

	verbose := NewCLIErrorAdapter(true, slog.Default())
	if got := verbose.FormatError(err); got != "Error: "+err.Error() {
		t.Errorf("verbose FormatError() = %q", got)
	}

	if got := quiet.FormatError(nil); got != "" {
		t.Errorf("FormatError(nil) = %q", got)
	}
}
