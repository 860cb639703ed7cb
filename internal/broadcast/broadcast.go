// Package broadcast fans per-tenant session events out to live subscribers.
//
// Every subscriber owns a bounded queue drained by its own writer
// goroutine, so a slow or broken sink never delays the publisher or the
// other subscribers of the same tenant. A subscriber whose queue
// overflows, or whose sink returns an error, is removed.
package broadcast

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is one named payload delivered to subscribers.
type Event struct {
	Name string    `json:"event"`
	Data any       `json:"data,omitempty"`
	Time time.Time `json:"time"`
}

// Sink receives events for one subscriber. Send is only ever called from
// that subscriber's writer goroutine.
type Sink interface {
	Send(ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev Event) error

func (f SinkFunc) Send(ev Event) error { return f(ev) }

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID       string
	TenantID string

	sink  Sink
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// Done is closed when the subscription is removed for any reason.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) stop() bool {
	stopped := false
	s.once.Do(func() {
		close(s.done)
		stopped = true
	})
	return stopped
}

// Broadcaster is the per-tenant event multiplexer.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]map[string]*Subscription
	buffer int
	log    zerolog.Logger
}

// New creates a Broadcaster whose subscribers queue up to buffer events.
func New(buffer int, log zerolog.Logger) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   map[string]map[string]*Subscription{},
		buffer: buffer,
		log:    log.With().Str("component", "broadcast").Logger(),
	}
}

// Subscribe registers sink for tenantID. Events published before this call
// are not replayed.
func (b *Broadcaster) Subscribe(tenantID string, sink Sink) *Subscription {
	sub := &Subscription{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		sink:     sink,
		queue:    make(chan Event, b.buffer),
		done:     make(chan struct{}),
	}
	b.mu.Lock()
	m, ok := b.subs[tenantID]
	if !ok {
		m = map[string]*Subscription{}
		b.subs[tenantID] = m
	}
	m[sub.ID] = sub
	b.mu.Unlock()

	go b.writer(sub)
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if m, ok := b.subs[sub.TenantID]; ok {
		if cur, ok := m[sub.ID]; ok && cur == sub {
			delete(m, sub.ID)
			if len(m) == 0 {
				delete(b.subs, sub.TenantID)
			}
		}
	}
	b.mu.Unlock()
	sub.stop()
}

// Publish delivers an event to every subscriber registered for tenantID
// at the time of the call. It never blocks on a sink.
func (b *Broadcaster) Publish(tenantID, name string, data any) {
	ev := Event{Name: name, Data: data, Time: time.Now().UTC()}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[tenantID]))
	for _, sub := range b.subs[tenantID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case <-sub.done:
		case sub.queue <- ev:
		default:
			b.log.Warn().Str("tenant", tenantID).Str("subscriber", sub.ID).Msg("subscriber queue full, dropping")
			b.Unsubscribe(sub)
		}
	}
}

// Count returns the number of live subscribers for tenantID.
func (b *Broadcaster) Count(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[tenantID])
}

// CloseTenant removes every subscriber of tenantID.
func (b *Broadcaster) CloseTenant(tenantID string) {
	b.mu.Lock()
	m := b.subs[tenantID]
	delete(b.subs, tenantID)
	b.mu.Unlock()
	for _, sub := range m {
		sub.stop()
	}
}

// Close removes every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	all := b.subs
	b.subs = map[string]map[string]*Subscription{}
	b.mu.Unlock()
	for _, m := range all {
		for _, sub := range m {
			sub.stop()
		}
	}
}

func (b *Broadcaster) writer(sub *Subscription) {
	for {
		select {
		case <-sub.done:
			return
		case ev := <-sub.queue:
			if err := sub.sink.Send(ev); err != nil {
				b.log.Debug().Err(err).Str("tenant", sub.TenantID).Str("subscriber", sub.ID).Msg("subscriber write failed, removing")
				b.Unsubscribe(sub)
				return
			}
		}
	}
}
