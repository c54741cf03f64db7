// Package audit persists a durable record of every tag deletion and GC
// invocation to a local SQLite database using a WAL-mode migration
// pattern.
package audit

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultDBPath is used when AUDIT_DB_PATH isn't set.
const DefaultDBPath = "data/registrywarden.db"

// Action values for Record.Action.
const (
	ActionDeleted     = "deleted"
	ActionWouldDelete = "would_delete"
	ActionError       = "error"
)

// Record is one durable entry describing a single tag-deletion decision,
// or a GC invocation's outcome (Repository/Tag/Digest empty in that
// case).
type Record struct {
	ID         string
	Instance   string
	Repository string
	Tag        string
	Digest     string
	SizeBytes  uint64
	Rule       string
	Action     string
	Reason     string
	DeletedAt  time.Time
}

// HumanSize formats SizeBytes for user-facing output.
func (r Record) HumanSize() string {
	return humanize.Bytes(r.SizeBytes)
}

// DB wraps the audit database connection.
type DB struct {
	conn *sql.DB
}

// Path resolves the audit database location: $AUDIT_DB_PATH, or
// DefaultDBPath if unset.
func Path() string {
	if path := os.Getenv("AUDIT_DB_PATH"); path != "" {
		return path
	}
	return DefaultDBPath
}

// Open opens (creating if necessary) the audit database at dbPath,
// enables WAL mode, and runs migrations.
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating audit database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("running audit database migrations: %w", err)
	}
	return db, nil
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
	CREATE TABLE IF NOT EXISTS deletions (
		id TEXT PRIMARY KEY,
		instance TEXT NOT NULL,
		repository TEXT NOT NULL,
		tag TEXT NOT NULL,
		digest TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		rule TEXT NOT NULL,
		action TEXT NOT NULL DEFAULT 'deleted',
		reason TEXT NOT NULL DEFAULT '',
		deleted_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_deletions_instance ON deletions(instance);
	CREATE INDEX IF NOT EXISTS idx_deletions_deleted_at ON deletions(deleted_at);
	`)
	return err
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// RecordDecision inserts one audit record — a tag deletion/error decision
// or a GC outcome — assigning it a fresh uuid and timestamp. rec.ID and
// rec.DeletedAt are overwritten; every other field is the caller's.
func (db *DB) RecordDecision(rec Record) (Record, error) {
	rec.ID = uuid.NewString()
	rec.DeletedAt = time.Now()

	_, err := db.conn.Exec(`
		INSERT INTO deletions (id, instance, repository, tag, digest, size_bytes, rule, action, reason, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Instance, rec.Repository, rec.Tag, rec.Digest, rec.SizeBytes, rec.Rule, rec.Action, rec.Reason, rec.DeletedAt)
	if err != nil {
		return Record{}, fmt.Errorf("recording audit decision: %w", err)
	}
	return rec, nil
}

// ListByInstance returns every record for instance, most recent first.
func (db *DB) ListByInstance(instance string) ([]Record, error) {
	rows, err := db.conn.Query(`
		SELECT id, instance, repository, tag, digest, size_bytes, rule, action, reason, deleted_at
		FROM deletions WHERE instance = ? ORDER BY deleted_at DESC
	`, instance)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Instance, &r.Repository, &r.Tag, &r.Digest, &r.SizeBytes, &r.Rule, &r.Action, &r.Reason, &r.DeletedAt); err != nil {
			return nil, fmt.Errorf("scanning record row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalBytesReclaimed sums SizeBytes across every successfully deleted
// tag recorded for instance (GC-outcome and error rows don't count).
func (db *DB) TotalBytesReclaimed(instance string) (uint64, error) {
	var total sql.NullInt64
	err := db.conn.QueryRow(`
		SELECT SUM(size_bytes) FROM deletions WHERE instance = ? AND action = ?
	`, instance, ActionDeleted).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing reclaimed bytes: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return uint64(total.Int64), nil
}
