package credstore

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const fileSuffix = ".cred"

// FileStore keeps one file per tenant in a directory. Writes go through a
// temp file and rename so a crash never leaves a torn blob behind.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, wrap("init", "", err)
	}
	return &FileStore{dir: dir, locks: map[string]*sync.Mutex{}}, nil
}

func (s *FileStore) tenantLock(tenantID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[tenantID] = l
	}
	return l
}

// Tenant IDs are API keys and may contain any byte, so the file name is
// the URL-safe base64 of the ID.
func (s *FileStore) path(tenantID string) string {
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(tenantID))+fileSuffix)
}

func (s *FileStore) Load(_ context.Context, tenantID string) ([]byte, error) {
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(s.path(tenantID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("load", tenantID, err)
	}
	return data, nil
}

func (s *FileStore) Save(_ context.Context, tenantID string, blob []byte) error {
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	final := s.path(tenantID)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return wrap("save", tenantID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrap("save", tenantID, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return wrap("save", tenantID, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return wrap("save", tenantID, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return wrap("save", tenantID, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return wrap("save", tenantID, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, tenantID string) error {
	l := s.tenantLock(tenantID)
	l.Lock()
	defer l.Unlock()

	err := os.Remove(s.path(tenantID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return wrap("delete", tenantID, err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, wrap("list", "", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileSuffix))
		if err != nil {
			continue
		}
		out = append(out, string(raw))
	}
	sort.Strings(out)
	return out, nil
}
