// Package postgres stores event status records and idempotency results in PostgreSQL.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"git.home.luguber.info/inful/eventworker/internal/event"
	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
	"git.home.luguber.info/inful/eventworker/internal/idempotency"
	"git.home.luguber.info/inful/eventworker/internal/status"
)

// schemaSQL is embedded so the worker can bootstrap its own tables.
//
//go:embed schema.sql
var schemaSQL string

// Store implements status.Store and idempotency.Store.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New creates a connection pool and fails fast if the database is unreachable.
func New(ctx context.Context, dbURL string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schemaSQL)
	return err
}

// Ping validates connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) Put(ctx context.Context, rec event.Record) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		existing, found, err := loadForUpdate(ctx, tx, rec.EventID)
		if err != nil {
			return err
		}
		if found && existing.Status.IsTerminal() {
			return event.ErrTerminalStatus.WithContext("event_id", rec.EventID)
		}
		return s.save(ctx, tx, rec)
	})
}

// Update locks the row (or the insert slot) for the duration of the read-modify-write.
func (s *Store) Update(ctx context.Context, eventID string, patch event.Patch) (event.Record, error) {
	var rec event.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		existing, found, err := loadForUpdate(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if !found {
			existing = event.Record{EventID: eventID}
		}
		rec = existing
		if err := rec.Apply(patch, s.now()); err != nil {
			return err
		}
		return s.save(ctx, tx, rec)
	})
	return rec, err
}

func (s *Store) Get(ctx context.Context, eventID string) (event.Record, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM event_status WHERE event_id = $1`, eventID).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return event.Record{}, status.ErrNotFound.WithContext("event_id", eventID)
	}
	if err != nil {
		return event.Record{}, storeError(err, "query status")
	}
	return decode(raw)
}

func loadForUpdate(ctx context.Context, tx pgx.Tx, eventID string) (event.Record, bool, error) {
	var raw []byte
	err := tx.QueryRow(ctx, `SELECT record FROM event_status WHERE event_id = $1 FOR UPDATE`, eventID).Scan(&raw)
	if stderrors.Is(err, pgx.ErrNoRows) {
		// serialize concurrent creators of the same id
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, eventID); err != nil {
			return event.Record{}, false, storeError(err, "lock status")
		}
		err = tx.QueryRow(ctx, `SELECT record FROM event_status WHERE event_id = $1 FOR UPDATE`, eventID).Scan(&raw)
		if stderrors.Is(err, pgx.ErrNoRows) {
			return event.Record{}, false, nil
		}
	}
	if err != nil {
		return event.Record{}, false, storeError(err, "query status")
	}
	rec, err := decode(raw)
	return rec, err == nil, err
}

func (s *Store) save(ctx context.Context, tx pgx.Tx, rec event.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal status record: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO event_status (event_id, status, record, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO UPDATE
		SET status = EXCLUDED.status, record = EXCLUDED.record, updated_at = EXCLUDED.updated_at
	`, rec.EventID, string(rec.Status), string(raw), s.now())
	if err != nil {
		return storeError(err, "write status")
	}
	return nil
}

func decode(raw []byte) (event.Record, error) {
	var rec event.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return event.Record{}, errors.WrapError(err, errors.CategoryStatusStore, "decode status record").Build()
	}
	return rec, nil
}

// Load returns the stored result for fingerprint or idempotency.ErrMiss.
func (s *Store) Load(ctx context.Context, fingerprint string) (json.RawMessage, error) {
	var result string
	err := s.pool.QueryRow(ctx, `SELECT result FROM idempotency_results WHERE fingerprint = $1`, fingerprint).Scan(&result)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, idempotency.ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(result), nil
}

// StoreIfAbsent inserts result unless the fingerprint exists; the unique key
// makes concurrent inserts race-safe across worker processes.
func (s *Store) StoreIfAbsent(ctx context.Context, fingerprint string, result json.RawMessage) (json.RawMessage, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO idempotency_results (fingerprint, result)
		VALUES ($1, $2)
		ON CONFLICT (fingerprint) DO NOTHING
	`, fingerprint, string(result))
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, fingerprint)
}

func storeError(err error, msg string) error {
	return errors.WrapError(err, errors.CategoryStatusStore, msg).Retryable().Build()
}
