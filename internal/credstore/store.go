// Package credstore persists opaque per-tenant channel credential blobs.
package credstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/KafClaw/wagate/internal/secrets"
)

// ErrNotFound is returned by Load when no blob exists for the tenant.
var ErrNotFound = errors.New("credentials not found")

// Store is the credential persistence contract. Blobs are opaque bytes;
// a Save fully replaces the previous value.
type Store interface {
	Load(ctx context.Context, tenantID string) ([]byte, error)
	Save(ctx context.Context, tenantID string, blob []byte) error
	Delete(ctx context.Context, tenantID string) error
	List(ctx context.Context) ([]string, error)
}

// Error wraps a backend failure with the operation and tenant.
type Error struct {
	Op     string
	Tenant string
	Err    error
}

func (e *Error) Error() string {
	if e.Tenant == "" {
		return fmt.Sprintf("credential store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("credential store %s %s: %v", e.Op, e.Tenant, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(op, tenant string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return &Error{Op: op, Tenant: tenant, Err: err}
}

// Sealed encrypts blobs with s before handing them to the inner store.
func Sealed(inner Store, s *secrets.Sealer) Store {
	return &sealedStore{inner: inner, sealer: s}
}

type sealedStore struct {
	inner  Store
	sealer *secrets.Sealer
}

func (s *sealedStore) Load(ctx context.Context, tenantID string) ([]byte, error) {
	data, err := s.inner.Load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	plain, err := s.sealer.Open(tenantID, data)
	if err != nil {
		return nil, wrap("open", tenantID, err)
	}
	return plain, nil
}

func (s *sealedStore) Save(ctx context.Context, tenantID string, blob []byte) error {
	sealed, err := s.sealer.Seal(tenantID, blob)
	if err != nil {
		return wrap("seal", tenantID, err)
	}
	return s.inner.Save(ctx, tenantID, sealed)
}

func (s *sealedStore) Delete(ctx context.Context, tenantID string) error {
	return s.inner.Delete(ctx, tenantID)
}

func (s *sealedStore) List(ctx context.Context) ([]string, error) {
	return s.inner.List(ctx)
}
