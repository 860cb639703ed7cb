package credstore

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/KafClaw/wagate/internal/config"
	"github.com/KafClaw/wagate/internal/secrets"
)

// Open builds the configured store. The returned closer is a no-op for
// the file backend.
func Open(cfg config.CredentialsConfig) (Store, func() error, error) {
	var (
		store  Store
		closer = func() error { return nil }
	)
	switch cfg.Backend {
	case "sql":
		if err := config.EnsureDir(filepath.Dir(cfg.DSN)); err != nil {
			return nil, nil, wrap("init", "", err)
		}
		s, err := OpenSQLStore(cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		store, closer = s, s.Close
	default:
		s, err := NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		store = s
	}
	if !cfg.Encrypt {
		return store, closer, nil
	}
	sealed, err := sealStore(store, cfg.Dir, closer)
	if err != nil {
		return nil, nil, err
	}
	return sealed, closer, nil
}

// sealStore wraps store with the master key found for dir. On failure the
// backend is released through closer and its error joined to the result.
func sealStore(store Store, dir string, closer func() error) (Store, error) {
	key, err := secrets.LoadOrCreateMasterKey(dir)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("load master key: %w", err), closer())
	}
	sealer, err := secrets.NewSealer(key)
	if err != nil {
		return nil, errors.Join(err, closer())
	}
	return Sealed(store, sealer), nil
}
