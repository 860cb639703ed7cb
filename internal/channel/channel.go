// Package channel defines the contract between a tenant session and the
// messaging network connection that backs it.
package channel

import (
	"context"
	"errors"
	"fmt"
)

// Opener allocates a live connection for a tenant. creds is nil when the
// tenant has no stored credentials; the connection will then emit
// linking artifacts until the user links a device.
type Opener interface {
	Open(ctx context.Context, tenantID string, creds []byte) (Capability, error)
}

// Forgetter is implemented by openers that keep local per-tenant state
// which must be dropped once the tenant is logged out.
type Forgetter interface {
	Forget(tenantID string) error
}

// Capability is one authenticated (or authenticating) connection. Events
// are delivered in order on Events; the channel is closed after Close.
// A close event is always the last meaningful event of a connection.
// All methods are safe for concurrent use.
type Capability interface {
	Events() <-chan Event

	SendText(ctx context.Context, to, text string) (SendResult, error)
	SendMedia(ctx context.Context, to string, media Media) (SendResult, error)
	SendButtons(ctx context.Context, to string, buttons Buttons) (SendResult, error)

	CreateGroup(ctx context.Context, subject string, participants []string) (GroupInfo, error)
	UpdateParticipants(ctx context.Context, group string, participants []string, action ParticipantAction) ([]ParticipantResult, error)

	UpdateBlocklist(ctx context.Context, jid string, block bool) error
	SendPresence(ctx context.Context, update PresenceUpdate) error
	MarkRead(ctx context.Context, keys []MessageKey) error
	SetStatus(ctx context.Context, text string) error
	SetName(ctx context.Context, name string) error
	Download(ctx context.Context, ref MediaRef) ([]byte, error)
	CheckNumbers(ctx context.Context, phones []string) ([]NumberStatus, error)

	// Logout unlinks the device on the network side.
	Logout(ctx context.Context) error
	Close() error
}

// ErrConnectFailed is returned by Open when the connection could not be
// established. Sessions recover from it with their reconnect policy.
var ErrConnectFailed = errors.New("connect failed")

// CapabilityError wraps a failure reported by the network for a command.
type CapabilityError struct {
	Op  string
	Err error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// Fail wraps err as a CapabilityError unless it already is one.
func Fail(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *CapabilityError
	if errors.As(err, &ce) {
		return err
	}
	return &CapabilityError{Op: op, Err: err}
}
