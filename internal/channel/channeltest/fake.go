// Package channeltest provides in-memory channel fakes for tests.
package channeltest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KafClaw/wagate/internal/channel"
)

// Call records one capability method invocation.
type Call struct {
	Method string
	Args   []any
}

// Capability is a scriptable channel.Capability. Tests push events with
// Emit and inspect calls with Calls.
type Capability struct {
	events chan channel.Event

	mu     sync.Mutex
	calls  []Call
	errs   map[string]error
	closed bool

	seq atomic.Int64
}

// NewCapability returns a fake with a buffered event stream.
func NewCapability() *Capability {
	return &Capability{events: make(chan channel.Event, 64), errs: map[string]error{}}
}

// Emit pushes an event. It is dropped once the fake is closed.
func (c *Capability) Emit(ev channel.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

// FailOn makes method return err until cleared with a nil err.
func (c *Capability) FailOn(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		delete(c.errs, method)
		return
	}
	c.errs[method] = err
}

// Calls returns a copy of the recorded calls, optionally filtered by method.
func (c *Capability) Calls(method string) []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Call
	for _, call := range c.calls {
		if method == "" || call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// Closed reports whether Close was called.
func (c *Capability) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Capability) record(method string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: method, Args: args})
	return c.errs[method]
}

func (c *Capability) result(to string) channel.SendResult {
	return channel.SendResult{ID: fmt.Sprintf("MSG%d", c.seq.Add(1)), To: to, Timestamp: time.Now()}
}

func (c *Capability) Events() <-chan channel.Event { return c.events }

func (c *Capability) SendText(_ context.Context, to, text string) (channel.SendResult, error) {
	if err := c.record("SendText", to, text); err != nil {
		return channel.SendResult{}, err
	}
	return c.result(to), nil
}

func (c *Capability) SendMedia(_ context.Context, to string, media channel.Media) (channel.SendResult, error) {
	if err := c.record("SendMedia", to, media); err != nil {
		return channel.SendResult{}, err
	}
	return c.result(to), nil
}

func (c *Capability) SendButtons(_ context.Context, to string, b channel.Buttons) (channel.SendResult, error) {
	if err := c.record("SendButtons", to, b); err != nil {
		return channel.SendResult{}, err
	}
	return c.result(to), nil
}

func (c *Capability) CreateGroup(_ context.Context, subject string, participants []string) (channel.GroupInfo, error) {
	if err := c.record("CreateGroup", subject, participants); err != nil {
		return channel.GroupInfo{}, err
	}
	return channel.GroupInfo{JID: "120363000000000000@g.us", Subject: subject, Participants: participants}, nil
}

func (c *Capability) UpdateParticipants(_ context.Context, group string, participants []string, action channel.ParticipantAction) ([]channel.ParticipantResult, error) {
	if err := c.record("UpdateParticipants", group, participants, action); err != nil {
		return nil, err
	}
	out := make([]channel.ParticipantResult, 0, len(participants))
	for _, p := range participants {
		out = append(out, channel.ParticipantResult{JID: p, Status: 200})
	}
	return out, nil
}

func (c *Capability) UpdateBlocklist(_ context.Context, jid string, block bool) error {
	return c.record("UpdateBlocklist", jid, block)
}

func (c *Capability) SendPresence(_ context.Context, u channel.PresenceUpdate) error {
	return c.record("SendPresence", u)
}

func (c *Capability) MarkRead(_ context.Context, keys []channel.MessageKey) error {
	return c.record("MarkRead", keys)
}

func (c *Capability) SetStatus(_ context.Context, text string) error {
	return c.record("SetStatus", text)
}

func (c *Capability) SetName(_ context.Context, name string) error {
	return c.record("SetName", name)
}

func (c *Capability) Download(_ context.Context, ref channel.MediaRef) ([]byte, error) {
	if err := c.record("Download", ref); err != nil {
		return nil, err
	}
	return []byte("media:" + ref.DirectPath), nil
}

func (c *Capability) CheckNumbers(_ context.Context, phones []string) ([]channel.NumberStatus, error) {
	if err := c.record("CheckNumbers", phones); err != nil {
		return nil, err
	}
	out := make([]channel.NumberStatus, 0, len(phones))
	for _, p := range phones {
		out = append(out, channel.NumberStatus{Query: p, JID: p + "@s.whatsapp.net", Exists: true})
	}
	return out, nil
}

func (c *Capability) Logout(_ context.Context) error {
	return c.record("Logout")
}

func (c *Capability) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, Call{Method: "Close"})
	if !c.closed {
		c.closed = true
		close(c.events)
	}
	return nil
}

// Opener hands out fake capabilities and records the credentials each
// Open saw.
type Opener struct {
	mu      sync.Mutex
	caps    []*Capability
	creds   [][]byte
	failN   int
	forgot  []string
	openedC chan *Capability
}

// NewOpener returns an Opener whose Opened channel receives every new capability.
func NewOpener() *Opener {
	return &Opener{openedC: make(chan *Capability, 64)}
}

// FailNext makes the next n Open calls fail with channel.ErrConnectFailed.
func (o *Opener) FailNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failN = n
}

func (o *Opener) Open(_ context.Context, _ string, creds []byte) (channel.Capability, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.creds = append(o.creds, creds)
	if o.failN > 0 {
		o.failN--
		return nil, fmt.Errorf("dial: %w", channel.ErrConnectFailed)
	}
	c := NewCapability()
	o.caps = append(o.caps, c)
	o.openedC <- c
	return c, nil
}

func (o *Opener) Forget(tenantID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.forgot = append(o.forgot, tenantID)
	return nil
}

// Opened delivers capabilities in the order they were opened.
func (o *Opener) Opened() <-chan *Capability { return o.openedC }

// Opens returns the number of Open calls, including failed ones.
func (o *Opener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.creds)
}

// Creds returns the credentials passed to the i-th Open call.
func (o *Opener) Creds(i int) []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.creds[i]
}

// Forgotten returns tenants passed to Forget.
func (o *Opener) Forgotten() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.forgot...)
}
