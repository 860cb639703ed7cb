// Package dispatch validates tenant commands and routes them to the
// tenant's live connection.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/KafClaw/wagate/internal/audit"
	"github.com/KafClaw/wagate/internal/channel"
)

// ErrInvalidRequest matches every InvalidRequestError.
var ErrInvalidRequest = errors.New("invalid request")

// InvalidRequestError names the request field that failed validation.
type InvalidRequestError struct {
	Field  string
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid request: %s is required", e.Field)
	}
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(field, reason string) error {
	return &InvalidRequestError{Field: field, Reason: reason}
}

func required(field string) error { return &InvalidRequestError{Field: field} }

// Sessions resolves a tenant to its connected capability.
type Sessions interface {
	Channel(tenantID string) (channel.Capability, error)
}

const defaultTimeout = 30 * time.Second

// Dispatcher runs commands against tenant sessions. It holds no per-tenant
// state and is safe for concurrent use.
type Dispatcher struct {
	sessions Sessions
	audit    audit.Recorder
	timeout  time.Duration
	log      zerolog.Logger
}

// New builds a dispatcher. timeout bounds each network call; zero means
// the default of 30s.
func New(sessions Sessions, rec audit.Recorder, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if rec == nil {
		rec = audit.Nop{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{sessions: sessions, audit: rec, timeout: timeout, log: log}
}

// callTimeout derives the context for a single network call.
type callTimeout func(context.Context) (context.Context, context.CancelFunc)

// command describes one dispatchable operation. validate normalises
// params in place; summary is what lands in the audit log. Commands that
// make several network calls set each instead of invoke and bound every
// call themselves.
type command[P, R any] struct {
	name     string
	validate func(*P) error
	summary  func(*P) map[string]any
	invoke   func(ctx context.Context, c channel.Capability, p *P) (R, error)
	each     func(ctx context.Context, bound callTimeout, c channel.Capability, p *P) (R, error)
}

func (d *Dispatcher) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d.timeout)
}

func run[P, R any](ctx context.Context, d *Dispatcher, tenantID string, cmd command[P, R], params P) (R, error) {
	var zero R
	capab, err := d.sessions.Channel(tenantID)
	if err != nil {
		return zero, err
	}
	if cmd.validate != nil {
		if err := cmd.validate(&params); err != nil {
			return zero, err
		}
	}

	var res R
	if cmd.each != nil {
		res, err = cmd.each(ctx, d.bound, capab, &params)
	} else {
		callCtx, cancel := d.bound(ctx)
		res, err = cmd.invoke(callCtx, capab, &params)
		cancel()
	}

	entry := audit.Entry{TenantID: tenantID, Kind: "command." + cmd.name, Status: audit.StatusOK}
	if cmd.summary != nil {
		entry.Summary = cmd.summary(&params)
	}
	if err != nil {
		err = channel.Fail(cmd.name, err)
		entry.Status = audit.StatusError
		entry.Error = err.Error()
		d.log.Debug().Err(err).Str("tenant", tenantID).Str("command", cmd.name).Msg("command failed")
	}
	d.audit.Record(ctx, entry)
	return res, err
}
