package security

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

const storeBusyTimeout = 5000

// storeSchema creates the events table. IF NOT EXISTS keeps re-application
// idempotent.
var storeSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		ts        TEXT NOT NULL,
		kind      TEXT NOT NULL,
		chat_id   INTEGER NOT NULL DEFAULT 0,
		chat_type TEXT NOT NULL DEFAULT '',
		user_id   INTEGER NOT NULL DEFAULT 0,
		username  TEXT NOT NULL DEFAULT '',
		command   TEXT NOT NULL DEFAULT '',
		detail    TEXT NOT NULL DEFAULT '',
		metadata  TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts)`,
	`CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind)`,
}

// Store persists security events in SQLite so they survive restarts and can
// be inspected from the ops API. It implements Sink.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the event database at path. The
// database uses WAL mode, a 5 s busy timeout, and a single connection
// (SQLite serialises writes).
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("security: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("security: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("security: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", storeBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("security: set busy_timeout: %w", err)
	}

	for _, stmt := range storeSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("security: migrate event store: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// Record implements Sink.
func (s *Store) Record(event Event) error {
	meta := "{}"
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("security: marshal event metadata: %w", err)
		}
		meta = string(data)
	}

	_, err := s.db.Exec(
		`INSERT INTO events (ts, kind, chat_id, chat_type, user_id, username, command, detail, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Timestamp.UTC().Format(time.RFC3339Nano),
		string(event.Kind),
		event.ChatID,
		event.ChatType,
		event.UserID,
		event.Username,
		event.Command,
		event.Detail,
		meta,
	)
	if err != nil {
		return fmt.Errorf("security: insert event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, kind, chat_id, chat_type, user_id, username, command, detail, metadata
		 FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("security: query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e    Event
			ts   string
			kind string
			meta string
		)
		if err := rows.Scan(&ts, &kind, &e.ChatID, &e.ChatType, &e.UserID, &e.Username, &e.Command, &e.Detail, &meta); err != nil {
			return nil, fmt.Errorf("security: scan event: %w", err)
		}
		e.Kind = EventKind(kind)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			e.Timestamp = t
		}
		if meta != "" && meta != "{}" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
