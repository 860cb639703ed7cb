// Package whatsapp backs channel capabilities with a whatsmeow client.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"

	// sqlite driver for device stores
	_ "modernc.org/sqlite"

	"github.com/KafClaw/wagate/internal/channel"
)

const defaultSnapshotInterval = 5 * time.Minute

// Opener creates one whatsmeow client per Open call. Device stores are
// kept under Dir, one file per tenant.
type Opener struct {
	dir      string
	log      zerolog.Logger
	snapshot time.Duration
}

// NewOpener returns an opener keeping device stores in dir.
func NewOpener(dir string, log zerolog.Logger) *Opener {
	return &Opener{dir: dir, log: log, snapshot: defaultSnapshotInterval}
}

var (
	_ channel.Opener    = (*Opener)(nil)
	_ channel.Forgetter = (*Opener)(nil)
)

func (o *Opener) Open(ctx context.Context, tenantID string, creds []byte) (channel.Capability, error) {
	path := devicePath(o.dir, tenantID)
	if err := prepareDevice(path, creds); err != nil {
		return nil, err
	}
	log := o.log.With().Str("tenant", tenantID).Logger()

	container, err := sqlstore.New(ctx, "sqlite", deviceDSN(path), waLog.Zerolog(log.With().Str("component", "wa-store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("%w: open device store: %v", channel.ErrConnectFailed, err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("%w: load device: %v", channel.ErrConnectFailed, err)
	}

	client := whatsmeow.NewClient(device, waLog.Zerolog(log.With().Str("component", "wa-client").Logger()))
	client.EnableAutoReconnect = false

	c := newConn(tenantID, path, client, container, log)
	client.AddEventHandler(c.handle)

	if device.ID == nil {
		qr, err := client.GetQRChannel(c.ctx)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("%w: qr channel: %v", channel.ErrConnectFailed, err)
		}
		go c.pumpQR(qr)
	}
	if err := client.Connect(); err != nil {
		c.Close()
		return nil, fmt.Errorf("%w: %v", channel.ErrConnectFailed, err)
	}
	go c.snapshotLoop(o.snapshot)
	return c, nil
}

// Forget removes the tenant's device store. The connection must already
// be closed.
func (o *Opener) Forget(tenantID string) error {
	if err := removeDevice(devicePath(o.dir, tenantID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove device store: %w", err)
	}
	return nil
}
