package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// Backend names shared by the queue, store and idempotency sections.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendNATS     = "nats"
	BackendPostgres = "postgres"
)

// Config represents the eventworker configuration file.
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Queue       QueueConfig       `yaml:"queue"`
	Store       StoreConfig       `yaml:"store"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Retry       RetryConfig       `yaml:"retry"`
	Worker      WorkerConfig      `yaml:"worker"`
	Handlers    HandlersConfig    `yaml:"handlers"`
	Journal     JournalConfig     `yaml:"journal"`
	API         APIConfig         `yaml:"api"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// LoggingConfig selects the slog handler and level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// QueueConfig describes the primary queue and the optional dead-letter destination.
type QueueConfig struct {
	Backend           string `yaml:"backend"` // memory|nats
	URL               string `yaml:"url,omitempty"`
	Stream            string `yaml:"stream"`
	Subject           string `yaml:"subject"`
	Consumer          string `yaml:"consumer"`
	DeadLetterSubject string `yaml:"dead_letter_subject,omitempty"` // empty disables dead-letter forwarding
	BatchSize         int    `yaml:"batch_size"`
	WaitTime          string `yaml:"wait_time"`
	VisibilityTimeout string `yaml:"visibility_timeout"`
	PollErrorPause    string `yaml:"poll_error_pause"`
}

// StoreConfig describes the event status store.
type StoreConfig struct {
	Backend string `yaml:"backend"` // memory|sqlite|nats|postgres
	Path    string `yaml:"path,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
}

// IdempotencyConfig describes where computed results are cached by fingerprint.
type IdempotencyConfig struct {
	Backend string `yaml:"backend"` // memory|sqlite|nats|postgres
	Path    string `yaml:"path,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
	TTL     string `yaml:"ttl,omitempty"` // memory backend only; empty keeps entries for the process lifetime. Expired results are recomputed.
}

// RetryConfig mirrors retry.Policy in file form.
type RetryConfig struct {
	Backoff        RetryBackoffMode `yaml:"backoff"`
	InitialDelay   string           `yaml:"initial_delay"`
	MaxDelay       string           `yaml:"max_delay"`
	MaxRetries     int              `yaml:"max_retries"`
	ClassifyErrors bool             `yaml:"classify_errors"`
}

// WorkerConfig controls the consumption loop.
type WorkerConfig struct {
	ID                  string `yaml:"id,omitempty"`
	Concurrency         int    `yaml:"concurrency"`
	MaintenanceInterval string `yaml:"maintenance_interval"`
	ShutdownTimeout     string `yaml:"shutdown_timeout"`
}

type HandlersConfig struct {
	SimulateLatency bool `yaml:"simulate_latency"`
}

// JournalConfig enables the SQLite lifecycle journal and dead-letter spool.
type JournalConfig struct {
	Path string `yaml:"path,omitempty"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads configuration from configPath. An empty path yields the defaults,
// which run everything in memory. .env files are loaded first so ${VAR}
// references in the YAML can resolve against them.
func Load(configPath string) (*Config, error) {
	if loaded := loadEnvFiles(); loaded != "" {
		slog.Debug("Loaded environment file", "path", loaded)
	}

	cfg := Default()
	if configPath == "" {
		cfg.normalize()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigError("configuration file not found").
				WithContext("path", configPath).
				Build()
		}
		return nil, errors.WrapError(err, errors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}

	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML on top of cfg (normally Default()), normalizes and validates it.
func Parse(data []byte, cfg *Config) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return errors.WrapError(err, errors.CategoryConfig, "failed to unmarshal config").Build()
	}
	cfg.normalize()
	return cfg.Validate()
}

// exampleHeader is written above the generated example configuration.
const exampleHeader = `# eventworker configuration
#
# idempotency.ttl (memory backend) bounds cache growth, but a redelivered event
# whose result has expired is recomputed. Time-dependent results such as the
# notification timestamp then differ from the first computation. Leave it empty
# to keep results for the process lifetime.
#
# retry.classify_errors: true dead-letters malformed bodies and permanent handler
# errors after one attempt instead of retrying them up to max_retries.

`

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Default()
	example.Queue.Backend = BackendNATS
	example.Queue.URL = "${NATS_URL}"
	example.Queue.DeadLetterSubject = "events.dead"
	example.Store.Backend = BackendSQLite
	example.Store.Path = "./data/status.db"
	example.Idempotency.Backend = BackendSQLite
	example.Idempotency.Path = "./data/idempotency.db"
	example.Journal.Path = "./data/journal.db"
	example.Metrics.Enabled = true

	data, err := yaml.Marshal(example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}
	data = append([]byte(exampleHeader), data...)
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Duration helpers. Values are validated on load, so parse errors cannot occur here.

func (q QueueConfig) WaitTimeDuration() time.Duration          { return mustDuration(q.WaitTime) }
func (q QueueConfig) VisibilityTimeoutDuration() time.Duration { return mustDuration(q.VisibilityTimeout) }
func (q QueueConfig) PollErrorPauseDuration() time.Duration    { return mustDuration(q.PollErrorPause) }
func (r RetryConfig) InitialDelayDuration() time.Duration      { return mustDuration(r.InitialDelay) }
func (r RetryConfig) MaxDelayDuration() time.Duration          { return mustDuration(r.MaxDelay) }
func (i IdempotencyConfig) TTLDuration() time.Duration         { return mustDuration(i.TTL) }
func (w WorkerConfig) MaintenanceIntervalDuration() time.Duration {
	return mustDuration(w.MaintenanceInterval)
}
func (w WorkerConfig) ShutdownTimeoutDuration() time.Duration { return mustDuration(w.ShutdownTimeout) }

func mustDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, _ := time.ParseDuration(raw)
	return d
}
