package status

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the status database at dbPath.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS event_status (
		event_id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		record BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_status_status ON event_status(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, rec event.Record) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.load(ctx, tx, rec.EventID)
		if err != nil {
			return err
		}
		if err := checkPut(existing, found); err != nil {
			return err
		}
		return s.save(ctx, tx, rec)
	})
}

func (s *SQLiteStore) Update(ctx context.Context, eventID string, patch event.Patch) (event.Record, error) {
	var rec event.Record
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, found, err := s.load(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !found {
			existing = event.Record{EventID: eventID}
		}
		if err := existing.Apply(patch, s.now()); err != nil {
			rec = existing
			return err
		}
		rec = existing
		return s.save(ctx, tx, rec)
	})
	return rec, err
}

func (s *SQLiteStore) Get(ctx context.Context, eventID string) (event.Record, error) {
	rec, found, err := s.load(ctx, s.db, eventID)
	if err != nil {
		return event.Record{}, err
	}
	if !found {
		return event.Record{}, ErrNotFound.WithContext("event_id", eventID)
	}
	return rec, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q querier, eventID string) (event.Record, bool, error) {
	var raw []byte
	err := q.QueryRowContext(ctx, "SELECT record FROM event_status WHERE event_id = ?", eventID).Scan(&raw)
	if stderrors.Is(err, sql.ErrNoRows) {
		return event.Record{}, false, nil
	}
	if err != nil {
		return event.Record{}, false, errors.WrapError(err, errors.CategoryStatusStore, "query status").Retryable().Build()
	}
	var rec event.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return event.Record{}, false, errors.WrapError(err, errors.CategoryStatusStore, "decode status record").Build()
	}
	return rec, true, nil
}

func (s *SQLiteStore) save(ctx context.Context, tx *sql.Tx, rec event.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO event_status (event_id, status, record, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(event_id) DO UPDATE SET status = excluded.status, record = excluded.record, updated_at = excluded.updated_at`,
		rec.EventID, string(rec.Status), raw, s.now().UnixMilli(),
	)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStatusStore, "write status").Retryable().Build()
	}
	return nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.WrapError(err, errors.CategoryStatusStore, "begin transaction").Retryable().Build()
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
