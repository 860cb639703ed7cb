// Package session owns the lifecycle of each tenant's network connection:
// linking, persistence of credentials, reconnects and logout.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/KafClaw/wagate/internal/audit"
	"github.com/KafClaw/wagate/internal/channel"
	"github.com/KafClaw/wagate/internal/credstore"
)

// State is a session lifecycle state.
type State int32

const (
	Idle State = iota
	Linking
	Connected
	Reconnecting
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Linking:
		return "linking"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionNotConnected is returned when a command needs a live connection.
	ErrSessionNotConnected = errors.New("session not connected")
	// ErrLoggedOut is returned by operations on a retired session.
	ErrLoggedOut = errors.New("session logged out")
	// ErrClosed is returned once a session has been shut down.
	ErrClosed = errors.New("session closed")
)

// Event names published to subscribers.
const (
	EventConnected       = "connected"
	EventQR              = "qr"
	EventQRCleared       = "qr_cleared"
	EventMessage         = "message"
	EventPresence        = "presence"
	EventGroupsUpdate    = "groups_update"
	EventLoggedOut       = "logged_out"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect_failed"
)

const openTimeout = 60 * time.Second

// Publisher receives session events for fan-out.
type Publisher interface {
	Publish(tenantID, event string, data any)
}

// Timer is a cancellable scheduled callback.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ReconnectPolicy controls the delay between reconnect attempts.
type ReconnectPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	Multiplier  float64
	Jitter      float64
	MaxAttempts int
}

func (p ReconnectPolicy) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	if b.InitialInterval <= 0 {
		b.InitialInterval = 3 * time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.Reset()
	return b
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Opener       channel.Opener
	Creds        credstore.Store
	Events       Publisher
	Audit        audit.Recorder
	Reconnect    ReconnectPolicy
	AfterFunc    AfterFunc
	ReadReceipts bool
	Log          zerolog.Logger
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.AfterFunc == nil {
		out.AfterFunc = realAfterFunc
	}
	if out.Audit == nil {
		out.Audit = audit.Nop{}
	}
	if out.Events == nil {
		out.Events = nopPublisher{}
	}
	return &out
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, string, any) {}

// Status is a point-in-time snapshot of a session.
type Status struct {
	TenantID          string     `json:"tenantId"`
	State             string     `json:"state"`
	Self              string     `json:"self,omitempty"`
	QR                *Artifact  `json:"qr,omitempty"`
	ReconnectAttempts int        `json:"reconnectAttempts"`
	ConnectedAt       *time.Time `json:"connectedAt,omitempty"`
	LastDisconnect    string     `json:"lastDisconnect,omitempty"`
	LastError         string     `json:"lastError,omitempty"`
}

type msgKind int

const (
	msgOpen msgKind = iota
	msgEvent
	msgRetry
	msgLogout
	msgClose
)

type loopMsg struct {
	kind  msgKind
	gen   uint64
	ev    channel.Event
	ctx   context.Context
	reply chan error
}

// Session is one tenant's connection. All state transitions happen on the
// session's own goroutine; readers take the RWMutex.
type Session struct {
	tenantID string
	deps     *Deps
	log      zerolog.Logger
	onRetire func(*Session)

	mu          sync.RWMutex
	state       State
	capab       channel.Capability
	gen         uint64
	artifact    *Artifact
	self        string
	connectedAt time.Time
	lastReason  channel.CloseReason
	lastError   string
	attempts    int
	timer       Timer
	// ending is set once the session has started to wind down. The
	// registry waits for such a session to finish before replacing it.
	ending bool

	// Set while a reconnect timer is pending; guards against scheduling
	// a second attempt for the same disconnect.
	reconnectInFlight atomic.Bool
	bo                *backoff.ExponentialBackOff

	inbox    chan loopMsg
	quit     chan struct{}
	quitOnce sync.Once
	loopDone chan struct{}
}

func newSession(tenantID string, deps *Deps, onRetire func(*Session)) *Session {
	s := &Session{
		tenantID: tenantID,
		deps:     deps,
		log:      deps.Log.With().Str("component", "session").Str("tenant", tenantID).Logger(),
		onRetire: onRetire,
		bo:       deps.Reconnect.newBackOff(),
		inbox:    make(chan loopMsg, 256),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go s.run()
	return s
}

// TenantID returns the owning tenant.
func (s *Session) TenantID() string { return s.tenantID }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status returns a snapshot for API responses.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Status{
		TenantID:          s.tenantID,
		State:             s.state.String(),
		Self:              s.self,
		ReconnectAttempts: s.attempts,
		LastError:         s.lastError,
	}
	if s.artifact != nil {
		a := *s.artifact
		st.QR = &a
	}
	if s.state == Connected {
		t := s.connectedAt
		st.ConnectedAt = &t
	}
	if s.lastReason != channel.ReasonUnknown {
		st.LastDisconnect = s.lastReason.String()
	}
	return st
}

// Done is closed once the session goroutine has exited.
func (s *Session) Done() <-chan struct{} { return s.loopDone }

func (s *Session) isEnding() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ending
}

// LinkingArtifact returns the QR currently awaiting a scan.
func (s *Session) LinkingArtifact() (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return nil, false
	}
	a := *s.artifact
	return &a, true
}

// Channel returns the live capability, or ErrSessionNotConnected unless
// the session is Connected.
func (s *Session) Channel() (channel.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != Connected || s.capab == nil {
		return nil, ErrSessionNotConnected
	}
	return s.capab, nil
}

// Connect starts linking or reconnecting with stored credentials. It is
// a no-op unless the session is Idle, and never waits for the network.
func (s *Session) Connect(_ context.Context) error {
	s.mu.Lock()
	switch {
	case s.state == LoggedOut:
		s.mu.Unlock()
		return ErrLoggedOut
	case s.ending:
		s.mu.Unlock()
		return ErrClosed
	case s.state == Idle:
		s.state = Linking
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return nil
	}
	if !s.post(loopMsg{kind: msgOpen}) {
		return ErrClosed
	}
	return nil
}

// Logout unlinks the device, deletes stored credentials and retires the
// session. It waits for the session goroutine to finish the transition.
func (s *Session) Logout(ctx context.Context) error {
	return s.call(ctx, msgLogout)
}

// Close drops the connection without logging out; credentials are kept.
func (s *Session) Close(ctx context.Context) error {
	err := s.call(ctx, msgClose)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) call(ctx context.Context, kind msgKind) error {
	reply := make(chan error, 1)
	select {
	case s.inbox <- loopMsg{kind: kind, ctx: ctx, reply: reply}:
	case <-s.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-s.loopDone:
		// The loop may exit right after replying.
		select {
		case err := <-reply:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) post(m loopMsg) bool {
	select {
	case s.inbox <- m:
		return true
	case <-s.quit:
		return false
	}
}

func (s *Session) stopLoop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

func (s *Session) run() {
	defer close(s.loopDone)
	for {
		// Nothing queued behind a stop is handled.
		select {
		case <-s.quit:
			return
		default:
		}
		select {
		case <-s.quit:
			return
		case m := <-s.inbox:
			s.handle(m)
		}
	}
}

func (s *Session) handle(m loopMsg) {
	switch m.kind {
	case msgOpen:
		s.open()
	case msgRetry:
		s.retry()
	case msgEvent:
		s.mu.RLock()
		current := m.gen == s.gen && s.capab != nil
		s.mu.RUnlock()
		if !current {
			s.log.Debug().Str("event", string(m.ev.Kind)).Msg("dropping event from retired connection")
			return
		}
		s.handleEvent(m.ev)
	case msgLogout:
		m.reply <- s.logout(m.ctx)
	case msgClose:
		s.shutdown()
		m.reply <- nil
	}
}

func (s *Session) open() {
	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	creds, err := s.deps.Creds.Load(ctx, s.tenantID)
	if errors.Is(err, credstore.ErrNotFound) {
		creds, err = nil, nil
	}
	if err != nil {
		s.log.Error().Err(err).Msg("load credentials")
		s.record("session.creds_failed", err, nil)
		s.enterReconnecting(channel.ReasonUnknown, err)
		return
	}

	c, err := s.deps.Opener.Open(ctx, s.tenantID, creds)
	if err != nil {
		s.log.Warn().Err(err).Bool("has_creds", creds != nil).Msg("open connection")
		s.record("session.connect_failed", err, nil)
		s.enterReconnecting(channel.ReasonUnknown, err)
		return
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.capab = c
	s.mu.Unlock()
	s.log.Info().Bool("has_creds", creds != nil).Msg("connection opened")
	go s.pump(gen, c)
}

// pump forwards one connection's events to the session loop. If the
// stream ends without a close event, a synthetic one is injected; it is
// dropped by the loop when the connection was already retired.
func (s *Session) pump(gen uint64, c channel.Capability) {
	for ev := range c.Events() {
		if !s.post(loopMsg{kind: msgEvent, gen: gen, ev: ev}) {
			return
		}
	}
	s.post(loopMsg{kind: msgEvent, gen: gen, ev: channel.Event{Kind: channel.EventClose, Reason: channel.ReasonConnectionLost}})
}

func (s *Session) handleEvent(ev channel.Event) {
	s.recordEvent(ev)

	switch ev.Kind {
	case channel.EventLinkingArtifact:
		art := newArtifact(ev.Code)
		s.mu.Lock()
		if s.state == Reconnecting || s.state == Idle {
			s.state = Linking
		}
		s.artifact = art
		s.mu.Unlock()
		s.publish(EventQR, art)

	case channel.EventOpen:
		s.stopTimer()
		s.reconnectInFlight.Store(false)
		s.bo.Reset()
		s.mu.Lock()
		hadQR := s.artifact != nil
		s.artifact = nil
		s.state = Connected
		s.connectedAt = time.Now().UTC()
		s.self = ev.Self
		s.attempts = 0
		s.lastError = ""
		s.mu.Unlock()
		s.log.Info().Str("self", ev.Self).Msg("connected")
		if hadQR {
			s.publish(EventQRCleared, nil)
		}
		s.publish(EventConnected, map[string]any{"self": ev.Self})

	case channel.EventClose:
		s.discard()
		if ev.Reason.Terminal() {
			s.log.Warn().Int("reason", int(ev.Reason)).Msg("logged out by network")
			s.retire(ev.Reason.String())
			return
		}
		s.log.Info().Int("reason", int(ev.Reason)).Err(ev.Err).Msg("connection closed")
		s.enterReconnecting(ev.Reason, ev.Err)

	case channel.EventCredsUpdated:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := s.deps.Creds.Save(ctx, s.tenantID, ev.Creds)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Msg("persist credentials")
			s.record("session.creds_failed", err, nil)
			s.discard()
			s.enterReconnecting(channel.ReasonUnknown, err)
		}

	case channel.EventMessage:
		s.sendReceipts(ev.Messages)
		for _, m := range ev.Messages {
			s.publish(EventMessage, m)
		}

	case channel.EventPresence:
		s.publish(EventPresence, ev.Presence)

	case channel.EventGroupsUpdate:
		s.publish(EventGroupsUpdate, ev.Groups)
	}
}

func (s *Session) sendReceipts(msgs []channel.Message) {
	if !s.deps.ReadReceipts {
		return
	}
	s.mu.RLock()
	c := s.capab
	s.mu.RUnlock()
	if c == nil {
		return
	}
	for _, m := range msgs {
		if m.Key.FromMe || m.IsStatusBroadcast() || m.Key.ID == "" {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.MarkRead(ctx, []channel.MessageKey{m.Key}); err != nil {
			s.log.Debug().Err(err).Str("message", m.Key.ID).Msg("read receipt failed")
		}
		cancel()
	}
}

// discard closes the current connection and invalidates its events.
func (s *Session) discard() {
	s.mu.Lock()
	c := s.capab
	s.capab = nil
	s.gen++
	s.mu.Unlock()
	if c != nil {
		if err := c.Close(); err != nil {
			s.log.Debug().Err(err).Msg("close connection")
		}
	}
}

func (s *Session) enterReconnecting(reason channel.CloseReason, cause error) {
	s.mu.Lock()
	hadQR := s.artifact != nil
	s.artifact = nil
	s.state = Reconnecting
	s.lastReason = reason
	if cause != nil {
		s.lastError = cause.Error()
	}
	s.mu.Unlock()
	if hadQR {
		s.publish(EventQRCleared, nil)
	}
	s.scheduleReconnect(reason)
}

func (s *Session) scheduleReconnect(reason channel.CloseReason) {
	if !s.reconnectInFlight.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.mu.Unlock()

	if max := s.deps.Reconnect.MaxAttempts; max > 0 && attempt > max {
		s.reconnectInFlight.Store(false)
		s.giveUp(attempt - 1)
		return
	}

	delay := s.bo.NextBackOff()
	if delay == backoff.Stop {
		delay = s.bo.MaxInterval
	}
	s.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("scheduling reconnect")
	s.publish(EventReconnecting, map[string]any{
		"attempt": attempt,
		"delayMs": delay.Milliseconds(),
		"reason":  reason.String(),
	})

	t := s.deps.AfterFunc(delay, func() { s.post(loopMsg{kind: msgRetry}) })
	s.mu.Lock()
	s.timer = t
	s.mu.Unlock()
}

func (s *Session) stopTimer() {
	s.mu.Lock()
	t := s.timer
	s.timer = nil
	s.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (s *Session) retry() {
	s.reconnectInFlight.Store(false)
	s.mu.Lock()
	if s.state != Reconnecting {
		s.mu.Unlock()
		return
	}
	s.state = Linking
	s.timer = nil
	s.mu.Unlock()
	s.open()
}

// giveUp parks the session after too many failed attempts. Credentials
// are kept so a later start can resume.
func (s *Session) giveUp(attempts int) {
	s.stopTimer()
	s.mu.Lock()
	s.ending = true
	s.state = Idle
	s.mu.Unlock()
	s.log.Warn().Int("attempts", attempts).Msg("reconnect attempts exhausted")
	s.record("session.reconnect_limit", nil, map[string]any{"attempts": attempts})
	s.publish(EventReconnectFailed, map[string]any{"attempts": attempts})
	if s.onRetire != nil {
		s.onRetire(s)
	}
	s.stopLoop()
}

// retire is the terminal transition: credentials are deleted and the
// session leaves the registry for good. A replacement session for the
// tenant is only created after this returns.
func (s *Session) retire(cause string) {
	s.stopTimer()
	s.reconnectInFlight.Store(false)
	s.mu.Lock()
	s.ending = true
	s.state = LoggedOut
	s.artifact = nil
	s.mu.Unlock()
	s.discard()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := s.deps.Creds.Delete(ctx, s.tenantID); err != nil {
		s.log.Error().Err(err).Msg("delete credentials")
	}
	cancel()
	if f, ok := s.deps.Opener.(channel.Forgetter); ok {
		if err := f.Forget(s.tenantID); err != nil {
			s.log.Warn().Err(err).Msg("forget local device state")
		}
	}

	s.record("session.logged_out", nil, map[string]any{"cause": cause})
	s.publish(EventLoggedOut, map[string]any{"reason": cause})
	if s.onRetire != nil {
		s.onRetire(s)
	}
	s.stopLoop()
}

func (s *Session) logout(ctx context.Context) error {
	s.mu.RLock()
	state, c := s.state, s.capab
	s.mu.RUnlock()
	if state == LoggedOut {
		return ErrLoggedOut
	}
	if c != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		if err := c.Logout(ctx); err != nil {
			s.log.Warn().Err(err).Msg("network logout failed, removing local state anyway")
		}
	}
	s.retire("logout")
	return nil
}

func (s *Session) shutdown() {
	s.stopTimer()
	s.reconnectInFlight.Store(false)
	s.mu.Lock()
	s.ending = true
	s.mu.Unlock()
	s.discard()
	s.mu.Lock()
	if s.state != LoggedOut {
		s.state = Idle
	}
	s.artifact = nil
	s.mu.Unlock()
	s.stopLoop()
}

func (s *Session) publish(event string, data any) {
	s.deps.Events.Publish(s.tenantID, event, data)
}

func (s *Session) record(kind string, err error, summary map[string]any) {
	e := audit.Entry{TenantID: s.tenantID, Kind: kind, Summary: summary}
	if err != nil {
		e.Status = audit.StatusError
		e.Error = err.Error()
	}
	s.deps.Audit.Record(context.Background(), e)
}

func (s *Session) recordEvent(ev channel.Event) {
	summary := map[string]any{}
	switch ev.Kind {
	case channel.EventClose:
		summary["reason"] = int(ev.Reason)
	case channel.EventMessage:
		summary["count"] = len(ev.Messages)
	case channel.EventOpen:
		summary["self"] = ev.Self
	case channel.EventCredsUpdated:
		summary["bytes"] = len(ev.Creds)
	case channel.EventGroupsUpdate:
		summary["count"] = len(ev.Groups)
	}
	s.record("event."+string(ev.Kind), nil, summary)
}
