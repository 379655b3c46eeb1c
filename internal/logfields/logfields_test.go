package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"EventID", KeyEventID, "e-1", EventID("e-1")},
		{"EventType", KeyEventType, "analytics", EventType("analytics")},
		{"Status", KeyStatus, "processing", Status("processing")},
		{"Worker", KeyWorker, "worker-1", Worker("worker-1")},
		{"MessageID", KeyMessageID, "42", MessageID("42")},
		{"Backend", KeyBackend, "sqlite", Backend("sqlite")},
		{"Method", KeyMethod, "POST", Method("POST")},
		{"Path", KeyPath, "/events", Path("/events")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if tc.attr.Value.String() != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %s", tc.name, tc.attrVal, tc.attr.Value.String())
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if a := Attempt(3); a.Key != KeyAttempt || a.Value.Int64() != 3 {
		t.Fatalf("unexpected attempt attr %v", a)
	}
	if a := Delay(2 * time.Second); a.Value.Duration() != 2*time.Second {
		t.Fatalf("unexpected delay attr %v", a)
	}
	if a := DurationMS(1500 * time.Microsecond); a.Value.Float64() != 1.5 {
		t.Fatalf("unexpected duration attr %v", a)
	}
}

func TestFingerprintTruncates(t *testing.T) {
	fp := "0123456789abcdef0123456789abcdef"
	if got := Fingerprint(fp).Value.String(); got != "0123456789ab" {
		t.Fatalf("expected 12 char prefix, got %q", got)
	}
	if got := Fingerprint("abc").Value.String(); got != "abc" {
		t.Fatalf("short fingerprint changed: %q", got)
	}
}

func TestErrorHelper(t *testing.T) {
	if Error(nil).Value.String() != "" {
		t.Fatalf("nil error should render empty")
	}
	if Error(errors.New("boom")).Value.String() != "boom" {
		t.Fatalf("error text mismatch")
	}
}
