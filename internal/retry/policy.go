package retry

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/config"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// Policy encapsulates retry/backoff settings for failed processing attempts.
// It is immutable after construction.
type Policy struct {
	Mode       config.RetryBackoffMode // fixed|linear|exponential
	Initial    time.Duration           // base delay
	Max        time.Duration           // cap for growth
	MaxRetries int                     // maximum retry attempts after the first failure
	// Classify lets errors marked errors.RetryNever skip the remaining retries.
	// Off by default: every error is retried up to MaxRetries.
	Classify bool
}

// DefaultPolicy returns the default policy: exponential, 1s initial, 30s cap, 3 retries,
// so a message is attempted four times with waits of 1s, 2s and 4s.
func DefaultPolicy() Policy {
	return Policy{Mode: config.RetryBackoffExponential, Initial: time.Second, Max: 30 * time.Second, MaxRetries: 3}
}

// NewPolicy builds a policy from raw config fields; zero/invalid values fall back to defaults.
func NewPolicy(mode config.RetryBackoffMode, initial, maxDuration time.Duration, maxRetries int) Policy {
	p := DefaultPolicy()
	if maxRetries >= 0 {
		p.MaxRetries = maxRetries
	}
	if initial > 0 {
		p.Initial = initial
	}
	if maxDuration > 0 {
		p.Max = maxDuration
	}
	switch mode {
	case config.RetryBackoffFixed, config.RetryBackoffLinear, config.RetryBackoffExponential:
		p.Mode = mode
	default:
		// unknown -> keep default
	}
	if p.Initial > p.Max {
		p.Initial = p.Max
	}
	return p
}

// FromConfig builds a policy from the retry section of the configuration file.
func FromConfig(rc config.RetryConfig) Policy {
	p := NewPolicy(rc.Backoff, rc.InitialDelayDuration(), rc.MaxDelayDuration(), rc.MaxRetries)
	p.Classify = rc.ClassifyErrors
	return p
}

// Delay returns the backoff delay for the given retry attempt number (1-based: first retry => 1).
// In exponential mode the wait after failed attempt n (0-based) is Initial * 2^n.
func (p Policy) Delay(retryCount int) time.Duration {
	if retryCount <= 0 {
		return 0
	}
	switch p.Mode {
	case config.RetryBackoffFixed:
		return p.Initial
	case config.RetryBackoffExponential:
		// guard the shift against overflow for very large retry counts
		if retryCount > 32 {
			return p.Max
		}
		d := p.Initial * (1 << (retryCount - 1))
		if d > p.Max || d <= 0 {
			return p.Max
		}
		return d
	default: // linear
		d := time.Duration(retryCount) * p.Initial
		if d > p.Max {
			return p.Max
		}
		return d
	}
}

// Decision is the outcome of evaluating a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
	// Permanent is set when the error itself ruled out further attempts.
	Permanent bool
}

// Next decides what happens after attempt (0-based) failed with err.
func (p Policy) Next(attempt int, err error) Decision {
	if p.Classify && errors.IsPermanent(err) {
		return Decision{Permanent: true}
	}
	if attempt >= p.MaxRetries {
		return Decision{}
	}
	retryCount := attempt + 1
	if p.Classify && errors.GetRetryStrategy(err) == errors.RetryImmediate {
		return Decision{Retry: true}
	}
	return Decision{Retry: true, Delay: p.Delay(retryCount)}
}

// Attempts is the total number of processing attempts the policy allows.
func (p Policy) Attempts() int { return p.MaxRetries + 1 }

// Validate ensures invariants; returns error if policy impossible to apply.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return fmt.Errorf("initial must be >0")
	}
	if p.Max <= 0 {
		return fmt.Errorf("max must be >0")
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	return nil
}
