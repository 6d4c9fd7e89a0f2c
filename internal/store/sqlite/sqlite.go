package sqlite

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	public_id     TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	token      TEXT NOT NULL UNIQUE,
	user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	expires_at INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS gmail_connections (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
	email         TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL DEFAULT '',
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT 'Bearer',
	expires_at    INTEGER NOT NULL DEFAULT 0,
	connected     INTEGER NOT NULL DEFAULT 1,
	created_at    INTEGER NOT NULL,
	updated_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_emails (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	public_id  TEXT NOT NULL UNIQUE,
	user_id    INTEGER NOT NULL,
	gmail_id   TEXT NOT NULL DEFAULT '',
	thread_id  TEXT NOT NULL,
	recipient  TEXT NOT NULL DEFAULT '',
	sender     TEXT NOT NULL DEFAULT '',
	subject    TEXT NOT NULL DEFAULT '',
	snippet    TEXT NOT NULL DEFAULT '',
	body       TEXT NOT NULL DEFAULT '',
	sent_at    INTEGER NOT NULL DEFAULT 0,
	tracked_at INTEGER NOT NULL,
	has_reply  INTEGER NOT NULL DEFAULT 0,
	dismissed  INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL,
	UNIQUE (user_id, thread_id)
);

CREATE TABLE IF NOT EXISTS user_settings (
	user_id           INTEGER PRIMARY KEY,
	threshold_minutes INTEGER NOT NULL DEFAULT 2880 CHECK (threshold_minutes >= 0),
	auto_refresh      INTEGER NOT NULL DEFAULT 1,
	auto_redraft      INTEGER NOT NULL DEFAULT 0,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS generated_drafts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	tracked_email_id INTEGER NOT NULL UNIQUE REFERENCES tracked_emails(id) ON DELETE CASCADE,
	content          TEXT NOT NULL,
	generated_at     INTEGER NOT NULL
);
`

// Store implements every persistence interface on a single SQLite file.
// It backs the single-user local mode and needs no external server.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := "file:" + path + "?" + url.Values{
		"_pragma": {"foreign_keys(1)", "journal_mode(WAL)", "busy_timeout(5000)"},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) nowUnix() int64 {
	return toUnix(s.now())
}

// Timestamps are stored as unix nanoseconds; 0 means unset.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func expectRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}
