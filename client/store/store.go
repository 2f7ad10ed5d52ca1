// Package store persists per-client history in an embedded SQLite database:
// chat lines and completed file transfers. The relay server itself keeps no
// persistent state; this ledger exists purely for the local UI.
//
// Migration design: SQL statements are kept in the [migrations] slice as
// ordered strings. Each is applied exactly once; the applied version is
// tracked in the schema_migrations table. To add a migration, append a new
// string — never edit or reorder existing entries.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// migrations holds the ordered list of DDL statements that bring the schema
// up to date. Index i corresponds to version i+1.
var migrations = []string{
	// v1 — chat history
	`CREATE TABLE IF NOT EXISTS chat_log (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		sender     TEXT NOT NULL,
		message    TEXT NOT NULL,
		private    INTEGER NOT NULL DEFAULT 0,
		meeting    TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v2 — file transfer ledger
	`CREATE TABLE IF NOT EXISTS transfers (
		id         TEXT PRIMARY KEY,
		direction  TEXT NOT NULL,
		filename   TEXT NOT NULL,
		bytes      INTEGER NOT NULL,
		checksum   TEXT NOT NULL DEFAULT '',
		verified   INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	)`,
	// v3 — index for history queries
	`CREATE INDEX IF NOT EXISTS idx_chat_log_created ON chat_log(created_at)`,
	// v4 — enable WAL mode
	`PRAGMA journal_mode=WAL`,
}

// Store owns the database lifecycle.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path and applies pending
// migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := current; i < len(migrations); i++ {
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration v%d: %w", i+1, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i+1); err != nil {
			return fmt.Errorf("record migration v%d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// ChatLine is one persisted chat message.
type ChatLine struct {
	ID        int64
	Sender    string
	Message   string
	Private   bool
	Meeting   string
	CreatedAt time.Time
}

// AddChat appends one chat line.
func (s *Store) AddChat(meeting, sender, message string, private bool) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_log (sender, message, private, meeting) VALUES (?, ?, ?, ?)`,
		sender, message, boolToInt(private), meeting)
	return err
}

// RecentChat returns up to limit chat lines, newest first.
func (s *Store) RecentChat(limit int) ([]ChatLine, error) {
	rows, err := s.db.Query(
		`SELECT id, sender, message, private, meeting, created_at
		 FROM chat_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatLine
	for rows.Next() {
		var l ChatLine
		var private int
		var created int64
		if err := rows.Scan(&l.ID, &l.Sender, &l.Message, &private, &l.Meeting, &created); err != nil {
			return nil, err
		}
		l.Private = private != 0
		l.CreatedAt = time.Unix(created, 0)
		out = append(out, l)
	}
	return out, rows.Err()
}

// Transfer directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Transfer is one completed file transfer.
type Transfer struct {
	ID        string
	Direction string
	Filename  string
	Bytes     int64
	Checksum  string
	Verified  bool
	CreatedAt time.Time
}

// AddTransfer records a finished transfer (either direction).
func (s *Store) AddTransfer(t Transfer) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO transfers (id, direction, filename, bytes, checksum, verified)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Direction, t.Filename, t.Bytes, t.Checksum, boolToInt(t.Verified))
	return err
}

// Transfers returns up to limit transfers, newest first.
func (s *Store) Transfers(limit int) ([]Transfer, error) {
	rows, err := s.db.Query(
		`SELECT id, direction, filename, bytes, checksum, verified, created_at
		 FROM transfers ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		var t Transfer
		var verified int
		var created int64
		if err := rows.Scan(&t.ID, &t.Direction, &t.Filename, &t.Bytes, &t.Checksum, &verified, &created); err != nil {
			return nil, err
		}
		t.Verified = verified != 0
		t.CreatedAt = time.Unix(created, 0)
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
