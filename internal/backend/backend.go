// Package backend opens the queue, stores and journal selected by configuration
// and hands them out as one closable set.
package backend

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"git.home.luguber.info/inful/eventworker/internal/config"
	"git.home.luguber.info/inful/eventworker/internal/idempotency"
	"git.home.luguber.info/inful/eventworker/internal/journal"
	"git.home.luguber.info/inful/eventworker/internal/logfields"
	"git.home.luguber.info/inful/eventworker/internal/natsbus"
	"git.home.luguber.info/inful/eventworker/internal/queue"
	"git.home.luguber.info/inful/eventworker/internal/status"
	"git.home.luguber.info/inful/eventworker/internal/store/postgres"
)

// Set is the opened backends of one process.
type Set struct {
	Queue queue.Queue
	// Stats is nil when the queue cannot report depth.
	Stats queue.StatsReporter
	// DeadLetter is nil when no dead-letter destination is configured.
	DeadLetter queue.Sender
	Status     status.Store
	Cache      idempotency.Cache
	// MemoryCache is set when the cache is process-local and needs pruning.
	MemoryCache *idempotency.MemoryCache
	// Journal is nil unless journal.path is set.
	Journal *journal.SQLiteJournal

	clientName string
	nats       map[string]*natsbus.Conn
	pg         map[string]*postgres.Store
	closers    []func() error
}

// Open connects every backend cfg selects. On error everything opened so far is closed.
func Open(ctx context.Context, cfg *config.Config, clientName string) (*Set, error) {
	s := &Set{
		clientName: clientName,
		nats:       make(map[string]*natsbus.Conn),
		pg:         make(map[string]*postgres.Store),
	}
	steps := []func(context.Context, *config.Config) error{
		s.openQueue,
		s.openStatus,
		s.openCache,
		s.openJournal,
	}
	for _, step := range steps {
		if err := step(ctx, cfg); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Healthy checks every NATS connection and PostgreSQL pool in use.
func (s *Set) Healthy(ctx context.Context) error {
	for url, c := range s.nats {
		if err := c.Healthy(ctx); err != nil {
			return fmt.Errorf("nats %s: %w", redact(url), err)
		}
	}
	for _, p := range s.pg {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

// Close releases backends in reverse order of opening.
func (s *Set) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return stderrors.Join(errs...)
}

func (s *Set) onClose(fn func() error) { s.closers = append(s.closers, fn) }

func (s *Set) openQueue(ctx context.Context, cfg *config.Config) error {
	qc := cfg.Queue
	switch qc.Backend {
	case config.BackendMemory:
		q := queue.NewMemoryQueue(qc.VisibilityTimeoutDuration())
		s.Queue, s.Stats = q, q
		if qc.DeadLetterSubject != "" {
			// process-local stand-in so exhausted events stay inspectable in dev runs
			s.DeadLetter = queue.NewMemoryQueue(qc.VisibilityTimeoutDuration())
		}
	case config.BackendNATS:
		conn, err := s.natsConn(qc.URL)
		if err != nil {
			return err
		}
		q, err := natsbus.NewQueue(ctx, conn, natsbus.QueueConfig{
			Stream:            qc.Stream,
			Subject:           qc.Subject,
			Consumer:          qc.Consumer,
			VisibilityTimeout: qc.VisibilityTimeoutDuration(),
		})
		if err != nil {
			return err
		}
		s.Queue, s.Stats = q, q
		if qc.DeadLetterSubject != "" {
			dlq, err := natsbus.NewPublisher(ctx, conn, qc.Stream+"_DEAD", qc.DeadLetterSubject)
			if err != nil {
				return err
			}
			s.DeadLetter = dlq
		}
	default:
		return fmt.Errorf("unsupported queue backend %q", qc.Backend)
	}
	slog.Debug("Queue opened", logfields.Backend(qc.Backend))
	return nil
}

func (s *Set) openStatus(ctx context.Context, cfg *config.Config) error {
	sc := cfg.Store
	switch sc.Backend {
	case config.BackendMemory:
		s.Status = status.NewMemoryStore()
	case config.BackendSQLite:
		st, err := status.NewSQLiteStore(SQLiteDSN(sc.Path))
		if err != nil {
			return err
		}
		s.onClose(st.Close)
		s.Status = st
	case config.BackendNATS:
		conn, err := s.natsConn(sc.URL)
		if err != nil {
			return err
		}
		st, err := natsbus.NewStatusStore(ctx, conn, sc.Bucket)
		if err != nil {
			return err
		}
		s.Status = st
	case config.BackendPostgres:
		st, err := s.postgres(ctx, sc.URL)
		if err != nil {
			return err
		}
		s.Status = st
	default:
		return fmt.Errorf("unsupported store backend %q", sc.Backend)
	}
	slog.Debug("Status store opened", logfields.Backend(sc.Backend))
	return nil
}

func (s *Set) openCache(ctx context.Context, cfg *config.Config) error {
	ic := cfg.Idempotency
	var store idempotency.Store
	switch ic.Backend {
	case config.BackendMemory:
		mc := idempotency.NewMemoryCache(ic.TTLDuration())
		s.Cache, s.MemoryCache = mc, mc
		return nil
	case config.BackendSQLite:
		st, err := idempotency.NewSQLiteStore(SQLiteDSN(ic.Path))
		if err != nil {
			return err
		}
		s.onClose(st.Close)
		store = st
	case config.BackendNATS:
		conn, err := s.natsConn(ic.URL)
		if err != nil {
			return err
		}
		st, err := natsbus.NewIdempotencyStore(ctx, conn, ic.Bucket)
		if err != nil {
			return err
		}
		store = st
	case config.BackendPostgres:
		st, err := s.postgres(ctx, ic.URL)
		if err != nil {
			return err
		}
		store = st
	default:
		return fmt.Errorf("unsupported idempotency backend %q", ic.Backend)
	}
	s.Cache = idempotency.NewSharedCache(store)
	slog.Debug("Idempotency cache opened", logfields.Backend(ic.Backend))
	return nil
}

func (s *Set) openJournal(_ context.Context, cfg *config.Config) error {
	if cfg.Journal.Path == "" {
		return nil
	}
	j, err := journal.NewSQLiteJournal(SQLiteDSN(cfg.Journal.Path))
	if err != nil {
		return err
	}
	s.onClose(j.Close)
	s.Journal = j
	return nil
}

// natsConn shares one connection per URL between queue and stores.
func (s *Set) natsConn(url string) (*natsbus.Conn, error) {
	if c, ok := s.nats[url]; ok {
		return c, nil
	}
	c, err := natsbus.Connect(url, s.clientName)
	if err != nil {
		return nil, err
	}
	s.nats[url] = c
	s.onClose(c.Close)
	return c, nil
}

func (s *Set) postgres(ctx context.Context, url string) (*postgres.Store, error) {
	if p, ok := s.pg[url]; ok {
		return p, nil
	}
	p, err := postgres.New(ctx, url)
	if err != nil {
		return nil, err
	}
	s.onClose(func() error { p.Close(); return nil })
	if err := p.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	s.pg[url] = p
	return p, nil
}

// SQLiteDSN adds a busy timeout so the worker and API processes can share a
// database file. In-memory databases are returned unchanged.
func SQLiteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func redact(url string) string {
	if at := strings.LastIndex(url, "@"); at >= 0 {
		if scheme := strings.Index(url, "://"); scheme >= 0 && scheme < at {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}

// ClientName returns the NATS client name for a process role.
func ClientName(role string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("eventworker-%s@%s", role, host)
}
