package idempotency

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by a SQLite file shared by the workers of one host.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the results table at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// one connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS idempotency_results (
		fingerprint TEXT PRIMARY KEY,
		result BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Load(ctx context.Context, fingerprint string) (json.RawMessage, error) {
	var result []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT result FROM idempotency_results WHERE fingerprint = ?", fingerprint,
	).Scan(&result)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	return json.RawMessage(result), nil
}

func (s *SQLiteStore) StoreIfAbsent(ctx context.Context, fingerprint string, result json.RawMessage) (json.RawMessage, error) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO idempotency_results (fingerprint, result, created_at) VALUES (?, ?, ?) ON CONFLICT(fingerprint) DO NOTHING",
		fingerprint, []byte(result), time.Now().Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert result: %w", err)
	}
	return s.Load(ctx, fingerprint)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
