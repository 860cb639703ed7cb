// Package audit records dispatched commands and session events.
//
// Domain code talks to a Recorder, whose Record never blocks and never
// fails. Persistence backends implement Writer and sit behind an Async
// recorder that drains a bounded queue on its own goroutine.
package audit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is one audit record.
type Entry struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenantId"`
	Kind      string         `json:"kind"`
	Status    string         `json:"status"`
	Error     string         `json:"error,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Recorder accepts entries fire-and-forget.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Writer persists entries. Errors are reported to the Async recorder,
// which logs them.
type Writer interface {
	Write(ctx context.Context, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}

// Multi writes to every writer and joins their errors.
type Multi []Writer

func (m Multi) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, w := range m {
		if err := w.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async queues entries for a background writer. When the queue is full
// the entry is dropped and counted.
type Async struct {
	w     Writer
	queue chan Entry
	log   zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	done    chan struct{}
}

// NewAsync starts the writer goroutine.
func NewAsync(w Writer, size int, log zerolog.Logger) *Async {
	if size <= 0 {
		size = 1024
	}
	a := &Async{
		w:     w,
		queue: make(chan Entry, size),
		log:   log.With().Str("component", "audit").Logger(),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Record fills ID and Timestamp when empty and enqueues the entry.
func (a *Async) Record(_ context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusOK
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e:
	default:
		n := a.dropped.Add(1)
		a.log.Warn().Str("tenant", e.TenantID).Str("kind", e.Kind).Uint64("dropped", n).Msg("audit queue full")
	}
}

// Dropped returns how many entries were discarded because the queue was full.
func (a *Async) Dropped() uint64 {
	return a.dropped.Load()
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := a.w.Write(ctx, e); err != nil {
			a.log.Warn().Err(err).Str("tenant", e.TenantID).Str("kind", e.Kind).Msg("audit write failed")
		}
		cancel()
	}
}

// Close stops accepting entries and waits for the queue to drain or ctx
// to expire.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
