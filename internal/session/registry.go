package session

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/KafClaw/wagate/internal/channel"
)

// ErrSessionNotFound is returned for tenants without a registered session.
var ErrSessionNotFound = errors.New("session not found")

const shardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// Registry maps tenants to their single live session. Lookups lock one
// shard only, so tenants never contend on a global lock.
type Registry struct {
	deps   *Deps
	shards [shardCount]shard
}

// NewRegistry creates an empty registry whose sessions share deps.
func NewRegistry(deps Deps) *Registry {
	r := &Registry{deps: deps.withDefaults()}
	for i := range r.shards {
		r.shards[i].sessions = map[string]*Session{}
	}
	return r
}

func (r *Registry) shard(tenantID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return &r.shards[h.Sum32()%shardCount]
}

// GetOrCreate returns the tenant's session, creating an Idle one if none
// exists. A session that is winding down (logged out, closed or out of
// reconnect attempts) is replaced once its goroutine has exited, so its
// cleanup never races the replacement.
func (r *Registry) GetOrCreate(tenantID string) *Session {
	sh := r.shard(tenantID)
	for {
		sh.mu.Lock()
		s, ok := sh.sessions[tenantID]
		if !ok {
			s = newSession(tenantID, r.deps, r.removeIfCurrent)
			sh.sessions[tenantID] = s
			sh.mu.Unlock()
			return s
		}
		if !s.isEnding() {
			sh.mu.Unlock()
			return s
		}
		sh.mu.Unlock()
		<-s.Done()
		r.removeIfCurrent(s)
	}
}

// Get returns the tenant's session if one is registered.
func (r *Registry) Get(tenantID string) (*Session, bool) {
	sh := r.shard(tenantID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.sessions[tenantID]
	return s, ok
}

// Channel returns the tenant's live capability, or ErrSessionNotConnected
// when the tenant has no Connected session.
func (r *Registry) Channel(tenantID string) (channel.Capability, error) {
	s, ok := r.Get(tenantID)
	if !ok {
		return nil, ErrSessionNotConnected
	}
	return s.Channel()
}

// Start is GetOrCreate followed by Connect. A session that starts winding
// down between the two is replaced.
func (r *Registry) Start(ctx context.Context, tenantID string) (*Session, error) {
	for {
		s := r.GetOrCreate(tenantID)
		err := s.Connect(ctx)
		switch {
		case err == nil:
			return s, nil
		case errors.Is(err, ErrClosed), errors.Is(err, ErrLoggedOut):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		default:
			return nil, err
		}
	}
}

// Logout logs the tenant out and removes its session.
func (r *Registry) Logout(ctx context.Context, tenantID string) error {
	s, ok := r.Get(tenantID)
	if !ok {
		return ErrSessionNotFound
	}
	err := s.Logout(ctx)
	if errors.Is(err, ErrClosed) || errors.Is(err, ErrLoggedOut) {
		return ErrSessionNotFound
	}
	return err
}

// Remove closes the tenant's session, keeping its credentials, and drops
// it from the registry. The entry stays if the close does not finish
// before ctx ends.
func (r *Registry) Remove(ctx context.Context, tenantID string) error {
	s, ok := r.Get(tenantID)
	if !ok {
		return nil
	}
	if err := s.Close(ctx); err != nil {
		return err
	}
	r.removeIfCurrent(s)
	return nil
}

func (r *Registry) removeIfCurrent(s *Session) {
	sh := r.shard(s.tenantID)
	sh.mu.Lock()
	if cur, ok := sh.sessions[s.tenantID]; ok && cur == s {
		delete(sh.sessions, s.tenantID)
	}
	sh.mu.Unlock()
}

func (r *Registry) all() []*Session {
	var out []*Session
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		for _, s := range sh.sessions {
			out = append(out, s)
		}
		sh.mu.Unlock()
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	n := 0
	for i := range r.shards {
		sh := &r.shards[i]
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}

// List returns status snapshots ordered by tenant.
func (r *Registry) List() []Status {
	sessions := r.all()
	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Restore starts a session for every tenant with stored credentials.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	tenants, err := r.deps.Creds.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range tenants {
		if _, err := r.Start(ctx, id); err != nil {
			r.deps.Log.Warn().Err(err).Str("tenant", id).Msg("restore session")
			continue
		}
		n++
	}
	return n, nil
}

// Shutdown closes every session concurrently, keeping credentials.
func (r *Registry) Shutdown(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range r.all() {
		g.Go(func() error {
			err := s.Close(ctx)
			r.removeIfCurrent(s)
			return err
		})
	}
	return g.Wait()
}
