package whatsapp

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Each tenant's device keys live in their own sqlite file. The credential
// blob persisted by the session is a consistent copy of that file.

func devicePath(dir, tenantID string) string {
	return filepath.Join(dir, base64.RawURLEncoding.EncodeToString([]byte(tenantID))+".db")
}

func deviceDSN(path string) string {
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// prepareDevice makes the on-disk store agree with creds. A local file is
// kept when present; a missing one is restored from creds. Without creds
// any stale file is dropped so linking starts from a fresh device.
func prepareDevice(path string, creds []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}
	if creds == nil {
		return removeDevice(path)
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat device store: %w", err)
	}
	tmp := path + ".restore"
	if err := os.WriteFile(tmp, creds, 0o600); err != nil {
		return fmt.Errorf("restore device store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("restore device store: %w", err)
	}
	return nil
}

func removeDevice(path string) error {
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// snapshotDevice returns a transactionally consistent copy of the store.
func snapshotDevice(ctx context.Context, path string) ([]byte, error) {
	tmp := path + ".snapshot"
	_ = os.Remove(tmp)
	defer os.Remove(tmp)

	db, err := sql.Open("sqlite", deviceDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	defer db.Close()
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return nil, fmt.Errorf("snapshot device store: %w", err)
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}

func digest(b []byte) [sha256.Size]byte { return sha256.Sum256(b) }
