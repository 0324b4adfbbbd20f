// Package audit is the append-only log of sync runs, stored in SQLite.
//
// Each forward sync bucket and each reverse sync project produces one entry
// recording the counts, the item titles touched and the errors seen.
//
// Example:
//
//	log, err := audit.Open(filepath.Join(config.Dir(), "audit.db"))
//	if err != nil {
//	    return err
//	}
//	defer log.Close()
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Operations recorded by the sync engines.
const (
	OpForwardSync   = "forward_sync"
	OpReverseSync   = "reverse_sync"
	OpConfigImport  = "config_import"
	OpSelectOptions = "select_options"
)

// Counts are the outcome counters of one run.
type Counts struct {
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// Entry is one audit record.
type Entry struct {
	ID        string
	Time      time.Time
	Operation string
	ProjectID string
	Message   string
	Counts    Counts
	Items     []string
	Errors    []string
}

// Log is the SQLite-backed audit log.
type Log struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	operation  TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL DEFAULT '',
	updated    INTEGER NOT NULL DEFAULT 0,
	failed     INTEGER NOT NULL DEFAULT 0,
	skipped    INTEGER NOT NULL DEFAULT 0,
	items      TEXT NOT NULL DEFAULT '[]',
	errors     TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_audit_project ON audit_log(project_id, created_at);
`

// Open opens or creates the audit log at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping audit log: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}

	return &Log{conn: conn, path: path, now: time.Now}, nil
}

// Close closes the database.
func (l *Log) Close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}

// Append records e. A missing ID or Time is filled in.
func (l *Log) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = l.now()
	}
	items, err := json.Marshal(nonNil(e.Items))
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}
	errs, err := json.Marshal(nonNil(e.Errors))
	if err != nil {
		return fmt.Errorf("failed to encode errors: %w", err)
	}

	_, err = l.conn.ExecContext(ctx, `
		INSERT INTO audit_log (id, created_at, operation, project_id, message, updated, failed, skipped, items, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.UTC().Format(time.RFC3339Nano), e.Operation, e.ProjectID, e.Message,
		e.Counts.Updated, e.Counts.Failed, e.Counts.Skipped, string(items), string(errs))
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// Query filters List results.
type Query struct {
	ProjectID string
	Operation string
	Limit     int
}

// List returns entries newest first.
func (l *Log) List(ctx context.Context, q Query) ([]Entry, error) {
	query := `SELECT id, created_at, operation, project_id, message, updated, failed, skipped, items, errors
		FROM audit_log WHERE 1=1`
	var args []any
	if q.ProjectID != "" {
		query += " AND project_id = ?"
		args = append(args, q.ProjectID)
	}
	if q.Operation != "" {
		query += " AND operation = ?"
		args = append(args, q.Operation)
	}
	query += " ORDER BY created_at DESC, rowid DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := l.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e             Entry
			created       string
			items, errors string
		)
		if err := rows.Scan(&e.ID, &created, &e.Operation, &e.ProjectID, &e.Message,
			&e.Counts.Updated, &e.Counts.Failed, &e.Counts.Skipped, &items, &errors); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if e.Time, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("audit entry %s has bad timestamp: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(items), &e.Items); err != nil {
			return nil, fmt.Errorf("audit entry %s has bad items: %w", e.ID, err)
		}
		if err := json.Unmarshal([]byte(errors), &e.Errors); err != nil {
			return nil, fmt.Errorf("audit entry %s has bad errors: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
