package config

import (
	"fmt"
	"os"
)

// Default returns the baseline configuration: in-memory queue, store and cache,
// three retries with 1s exponential backoff.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: string(LogLevelInfo), Format: string(LogFormatText)},
		Queue: QueueConfig{
			Backend:           BackendMemory,
			Stream:            "EVENTS",
			Subject:           "events.submitted",
			Consumer:          "eventworker",
			BatchSize:         10,
			WaitTime:          "20s",
			VisibilityTimeout: "30s",
			PollErrorPause:    "5s",
		},
		Store:       StoreConfig{Backend: BackendMemory, Bucket: "event_status"},
		Idempotency: IdempotencyConfig{Backend: BackendMemory, Bucket: "event_results"},
		Retry: RetryConfig{
			Backoff:        RetryBackoffExponential,
			InitialDelay:   "1s",
			MaxDelay:       "30s",
			MaxRetries:     3,
		},
		Worker: WorkerConfig{
			Concurrency:         1,
			MaintenanceInterval: "30s",
			ShutdownTimeout:     "30s",
		},
		API:     APIConfig{Addr: ":8000"},
		Metrics: MetricsConfig{Addr: ":8001"},
	}
}

// normalize fills values that depend on other fields or the environment.
func (c *Config) normalize() {
	c.Logging.Level = string(NormalizeLogLevel(c.Logging.Level))
	c.Logging.Format = string(NormalizeLogFormat(c.Logging.Format))
	if mode := NormalizeRetryBackoff(string(c.Retry.Backoff)); mode != "" {
		c.Retry.Backoff = mode
	}
	if c.Worker.ID == "" {
		c.Worker.ID = fmt.Sprintf("worker-%d", os.Getpid())
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 1
	}
	// NATS backed stores share the queue connection unless told otherwise.
	if c.Store.Backend == BackendNATS && c.Store.URL == "" {
		c.Store.URL = c.Queue.URL
	}
	if c.Idempotency.Backend == BackendNATS && c.Idempotency.URL == "" {
		c.Idempotency.URL = c.Queue.URL
	}
	// A postgres cache next to a postgres status store reuses the DSN.
	if c.Idempotency.Backend == BackendPostgres && c.Idempotency.URL == "" && c.Store.Backend == BackendPostgres {
		c.Idempotency.URL = c.Store.URL
	}
}
