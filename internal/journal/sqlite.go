package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/eventworker/internal/foundation/errors"
)

// SQLiteJournal stores entries in SQLite.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteJournal opens the journal at dbPath.
// Use ":memory:" for in-memory database, or a file path for persistent storage.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	j := &SQLiteJournal{db: db, now: time.Now}
	if err := j.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return j, nil
}

func (j *SQLiteJournal) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS journal (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		data BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_journal_event_id ON journal(event_id);
	CREATE INDEX IF NOT EXISTS idx_journal_entry_type ON journal(entry_type);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append adds an entry and returns its id. data may be nil.
func (j *SQLiteJournal) Append(ctx context.Context, eventID, entryType string, data any) (int64, error) {
	var raw []byte
	if data != nil {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			return 0, errors.WrapError(err, errors.CategoryJournal, "marshal journal data").Build()
		}
	}

	res, err := j.db.ExecContext(ctx,
		"INSERT INTO journal (event_id, entry_type, timestamp, data) VALUES (?, ?, ?, ?)",
		eventID, entryType, j.now().UnixMilli(), raw,
	)
	if err != nil {
		return 0, ErrAppendFailed.WithContext("cause", err.Error())
	}
	return res.LastInsertId()
}

// ByEvent returns all entries of eventID in append order.
func (j *SQLiteJournal) ByEvent(ctx context.Context, eventID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_id, entry_type, timestamp, data FROM journal WHERE event_id = ? ORDER BY id",
		eventID,
	)
	if err != nil {
		return nil, ErrQueryFailed.WithContext("cause", err.Error())
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ByType returns all entries of entryType in append order.
func (j *SQLiteJournal) ByType(ctx context.Context, entryType string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, event_id, entry_type, timestamp, data FROM journal WHERE entry_type = ? ORDER BY id",
		entryType,
	)
	if err != nil {
		return nil, ErrQueryFailed.WithContext("cause", err.Error())
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Spool stores a body whose dead-letter forward failed.
func (j *SQLiteJournal) Spool(ctx context.Context, eventID string, rec SpoolRecord) (int64, error) {
	return j.Append(ctx, eventID, TypeDeadLetterSpooled, rec)
}

// PendingSpool returns spooled bodies without a matching replay entry.
func (j *SQLiteJournal) PendingSpool(ctx context.Context) ([]SpooledMessage, error) {
	spooled, err := j.ByType(ctx, TypeDeadLetterSpooled)
	if err != nil {
		return nil, err
	}
	replayed, err := j.ByType(ctx, TypeDeadLetterReplayed)
	if err != nil {
		return nil, err
	}

	done := make(map[int64]bool, len(replayed))
	for _, e := range replayed {
		var r ReplayRecord
		if err := json.Unmarshal(e.Data, &r); err == nil {
			done[r.SpoolID] = true
		}
	}

	var pending []SpooledMessage
	for _, e := range spooled {
		if done[e.ID] {
			continue
		}
		var rec SpoolRecord
		if err := json.Unmarshal(e.Data, &rec); err != nil {
			return nil, ErrScanFailed.WithContext("entry_id", e.ID)
		}
		pending = append(pending, SpooledMessage{SpoolID: e.ID, EventID: e.EventID, SpoolRecord: rec})
	}
	return pending, nil
}

// MarkReplayed records that a spooled body was forwarded.
func (j *SQLiteJournal) MarkReplayed(ctx context.Context, msg SpooledMessage, messageID string) error {
	_, err := j.Append(ctx, msg.EventID, TypeDeadLetterReplayed, ReplayRecord{SpoolID: msg.SpoolID, MessageID: messageID})
	return err
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts int64
		var data []byte
		if err := rows.Scan(&e.ID, &e.EventID, &e.Type, &ts, &data); err != nil {
			return nil, ErrScanFailed.WithContext("cause", err.Error())
		}
		e.Timestamp = time.UnixMilli(ts)
		if len(data) > 0 {
			e.Data = json.RawMessage(data)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ErrScanFailed.WithContext("cause", err.Error())
	}
	return entries, nil
}

// Close closes the database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
