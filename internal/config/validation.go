package config

import (
	"slices"
	"time"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// Validate checks backend names, sizes and every duration string.
func (c *Config) Validate() error {
	if !slices.Contains([]string{BackendMemory, BackendNATS}, c.Queue.Backend) {
		return invalid("queue.backend", c.Queue.Backend)
	}
	storeBackends := []string{BackendMemory, BackendSQLite, BackendNATS, BackendPostgres}
	if !slices.Contains(storeBackends, c.Store.Backend) {
		return invalid("store.backend", c.Store.Backend)
	}
	if !slices.Contains(storeBackends, c.Idempotency.Backend) {
		return invalid("idempotency.backend", c.Idempotency.Backend)
	}
	if c.Queue.Backend == BackendNATS && c.Queue.URL == "" {
		return errors.ConfigError("queue.url is required for the nats backend").Build()
	}
	if c.Store.Backend == BackendSQLite && c.Store.Path == "" {
		return errors.ConfigError("store.path is required for the sqlite backend").Build()
	}
	if c.Idempotency.Backend == BackendSQLite && c.Idempotency.Path == "" {
		return errors.ConfigError("idempotency.path is required for the sqlite backend").Build()
	}
	if c.Store.Backend == BackendPostgres && c.Store.URL == "" {
		return errors.ConfigError("store.url is required for the postgres backend").Build()
	}
	if c.Idempotency.Backend == BackendPostgres && c.Idempotency.URL == "" {
		return errors.ConfigError("idempotency.url is required for the postgres backend").Build()
	}
	if (c.Store.Backend == BackendNATS || c.Idempotency.Backend == BackendNATS) && c.Queue.Backend != BackendNATS && c.Store.URL == "" && c.Idempotency.URL == "" {
		return errors.ConfigError("a nats url is required for nats backed stores").Build()
	}
	if c.Queue.BatchSize <= 0 || c.Queue.BatchSize > 100 {
		return errors.ConfigError("queue.batch_size must be between 1 and 100").
			WithContext("value", c.Queue.BatchSize).
			Build()
	}
	if c.Retry.MaxRetries < 0 {
		return errors.ConfigError("retry.max_retries cannot be negative").Build()
	}

	durations := map[string]string{
		"queue.wait_time":             c.Queue.WaitTime,
		"queue.visibility_timeout":    c.Queue.VisibilityTimeout,
		"queue.poll_error_pause":      c.Queue.PollErrorPause,
		"retry.initial_delay":         c.Retry.InitialDelay,
		"retry.max_delay":             c.Retry.MaxDelay,
		"idempotency.ttl":             c.Idempotency.TTL,
		"worker.maintenance_interval": c.Worker.MaintenanceInterval,
		"worker.shutdown_timeout":     c.Worker.ShutdownTimeout,
	}
	for field, raw := range durations {
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return errors.WrapError(err, errors.CategoryConfig, "invalid duration").
				WithContext("field", field).
				WithContext("value", raw).
				Build()
		}
		if d < 0 {
			return errors.ConfigError("duration cannot be negative").
				WithContext("field", field).
				Build()
		}
	}
	return nil
}

func invalid(field, value string) error {
	return errors.ConfigError("unsupported backend").
		WithContext("field", field).
		WithContext("value", value).
		Build()
}
