package logfields

import (
	"log/slog"
	"time"
)

// Canonical log field name constants to avoid drift across packages.
const (
	KeyEventID     = "event_id"
	KeyEventType   = "event_type"
	KeyStatus      = "status"
	KeyFingerprint = "fingerprint"
	KeyAttempt     = "attempt"
	KeyMaxRetries  = "max_retries"
	KeyDelay       = "delay"
	KeyWorker      = "worker_id"
	KeyMessageID   = "message_id"
	KeyBatchSize   = "batch_size"
	KeyDurationMS  = "duration_ms"
	KeyBackend     = "backend"
	KeyMethod      = "method"
	KeyPath        = "path"
	KeyHTTPStatus  = "http_status"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func EventID(id string) slog.Attr        { return slog.String(KeyEventID, id) }
func EventType(t string) slog.Attr       { return slog.String(KeyEventType, t) }
func Status(s string) slog.Attr          { return slog.String(KeyStatus, s) }
func Attempt(n int) slog.Attr            { return slog.Int(KeyAttempt, n) }
func MaxRetries(n int) slog.Attr         { return slog.Int(KeyMaxRetries, n) }
func Delay(d time.Duration) slog.Attr    { return slog.Duration(KeyDelay, d) }
func Worker(id string) slog.Attr         { return slog.String(KeyWorker, id) }
func MessageID(id string) slog.Attr      { return slog.String(KeyMessageID, id) }
func BatchSize(n int) slog.Attr          { return slog.Int(KeyBatchSize, n) }
func Backend(name string) slog.Attr      { return slog.String(KeyBackend, name) }
func Method(m string) slog.Attr          { return slog.String(KeyMethod, m) }
func Path(p string) slog.Attr            { return slog.String(KeyPath, p) }
func HTTPStatus(code int) slog.Attr      { return slog.Int(KeyHTTPStatus, code) }
func DurationMS(d time.Duration) slog.Attr {
	return slog.Float64(KeyDurationMS, float64(d.Microseconds())/1000)
}

// Fingerprint logs only a prefix; the full digest adds noise without helping correlation.
func Fingerprint(fp string) slog.Attr {
	if len(fp) > 12 {
		fp = fp[:12]
	}
	return slog.String(KeyFingerprint, fp)
}

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
