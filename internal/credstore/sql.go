package credstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const credentialsSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	tenant_id  TEXT PRIMARY KEY,
	blob       BLOB NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

// SQLStore keeps blobs in a single sqlite table. driver is "sqlite"
// (modernc, pure Go) or "sqlite3" (mattn, cgo).
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens path with the named driver and applies the schema.
func OpenSQLStore(driver, path string) (*SQLStore, error) {
	db, err := sql.Open(driver, sqliteDSN(driver, path))
	if err != nil {
		return nil, wrap("open", "", fmt.Errorf("open credentials db: %w", err))
	}
	if _, err := db.Exec(credentialsSchema); err != nil {
		db.Close()
		return nil, wrap("open", "", fmt.Errorf("apply schema: %w", err))
	}
	return &SQLStore{db: db}, nil
}

func sqliteDSN(driver, path string) string {
	if driver == "sqlite3" {
		return "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Load(ctx context.Context, tenantID string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM credentials WHERE tenant_id = ?`, tenantID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("load", tenantID, err)
	}
	return blob, nil
}

func (s *SQLStore) Save(ctx context.Context, tenantID string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (tenant_id, blob, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tenant_id) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at`,
		tenantID, blob, time.Now().UTC())
	return wrap("save", tenantID, err)
}

func (s *SQLStore) Delete(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE tenant_id = ?`, tenantID)
	return wrap("delete", tenantID, err)
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tenant_id FROM credentials ORDER BY tenant_id`)
	if err != nil {
		return nil, wrap("list", "", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("list", "", err)
		}
		out = append(out, id)
	}
	return out, wrap("list", "", rows.Err())
}
