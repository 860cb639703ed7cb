package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id   TEXT UNIQUE NOT NULL,
	tenant_id  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'ok',
	error_text TEXT NOT NULL DEFAULT '',
	summary    TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_tenant ON audit_log(tenant_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_log(kind);`

// Store persists entries in a sqlite database.
type Store struct {
	db *sql.DB
}

// OpenStore opens (or creates) the audit database. driver is "sqlite" or "sqlite3".
func OpenStore(driver, path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if driver == "sqlite3" {
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// Best-effort migration for databases created before status tracking.
	_, _ = db.Exec(`ALTER TABLE audit_log ADD COLUMN status TEXT NOT NULL DEFAULT 'ok'`)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Write inserts e. Duplicate entry IDs are ignored.
func (s *Store) Write(ctx context.Context, e Entry) error {
	summary := ""
	if len(e.Summary) > 0 {
		b, err := json.Marshal(e.Summary)
		if err != nil {
			return fmt.Errorf("marshal summary: %w", err)
		}
		summary = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (entry_id, tenant_id, kind, status, error_text, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO NOTHING`,
		e.ID, e.TenantID, e.Kind, e.Status, e.Error, summary, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Filter narrows List results.
type Filter struct {
	TenantID string
	Kind     string
	Since    *time.Time
	Limit    int
	Offset   int
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	query := `SELECT entry_id, tenant_id, kind, status, error_text, summary, created_at FROM audit_log WHERE 1=1`
	args := []any{}

	if f.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, f.TenantID)
	}
	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, f.Kind)
	}
	if f.Since != nil {
		query += " AND created_at >= ?"
		args = append(args, f.Since.UTC())
	}

	query += " ORDER BY created_at DESC, id DESC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			summary string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Kind, &e.Status, &e.Error, &summary, &e.Timestamp); err != nil {
			return nil, err
		}
		if summary != "" {
			_ = json.Unmarshal([]byte(summary), &e.Summary)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
