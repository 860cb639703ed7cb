package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/KafClaw/wagate/internal/channel"
)

// conn is a channel.Capability backed by one whatsmeow client.
type conn struct {
	tenantID  string
	path      string
	client    *whatsmeow.Client
	container *sqlstore.Container
	log       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	events chan channel.Event

	mu     sync.RWMutex
	closed bool

	closeSent atomic.Bool
	closeOnce sync.Once

	snapMu   sync.Mutex
	lastSnap [32]byte
}

func newConn(tenantID, path string, client *whatsmeow.Client, container *sqlstore.Container, log zerolog.Logger) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		tenantID:  tenantID,
		path:      path,
		client:    client,
		container: container,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan channel.Event, 64),
	}
}

func (c *conn) Events() <-chan channel.Event { return c.events }

// emit blocks until the session reads the event or the conn is closed.
func (c *conn) emit(ev channel.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

// emitClose sends the single close event of this connection.
func (c *conn) emitClose(reason channel.CloseReason, err error) {
	if !c.closeSent.CompareAndSwap(false, true) {
		return
	}
	c.log.Info().Err(err).Int("reason", int(reason)).Msg("whatsapp connection closed")
	c.emit(channel.Event{Kind: channel.EventClose, Reason: reason, Err: err})
}

func (c *conn) handle(evt any) {
	if reason, err, ok := closeReason(evt); ok {
		c.emitClose(reason, err)
		return
	}
	switch v := evt.(type) {
	case *events.PairSuccess:
		c.log.Info().Str("jid", v.ID.String()).Str("platform", v.Platform).Msg("device linked")
		c.emitCreds(true)
	case *events.Connected:
		c.emitCreds(true)
		self := ""
		if id := c.client.Store.ID; id != nil {
			self = id.ToNonAD().String()
		}
		c.emit(channel.Event{Kind: channel.EventOpen, Self: self})
	case *events.KeepAliveTimeout:
		c.log.Warn().Int("errors", v.ErrorCount).Msg("keepalive timeout")
	case *events.Message:
		if msg, ok := convertMessage(v); ok {
			c.emit(channel.Event{Kind: channel.EventMessage, Messages: []channel.Message{msg}})
		}
	case *events.Presence:
		c.emit(channel.Event{Kind: channel.EventPresence, Presence: convertPresence(v)})
	case *events.GroupInfo:
		c.emit(channel.Event{Kind: channel.EventGroupsUpdate, Groups: []channel.GroupUpdate{convertGroupInfo(v)}})
	}
}

func (c *conn) pumpQR(items <-chan whatsmeow.QRChannelItem) {
	for item := range items {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			c.emit(channel.Event{Kind: channel.EventLinkingArtifact, Code: item.Code})
		case "success":
		case "timeout":
			c.emitClose(channel.ReasonTimedOut, errors.New("linking timed out"))
		default:
			err := item.Error
			if err == nil {
				err = fmt.Errorf("linking failed: %s", item.Event)
			}
			c.emitClose(channel.ReasonBadSession, err)
		}
	}
}

// emitCreds publishes a snapshot of the device store. Unchanged snapshots
// are skipped unless force is set.
func (c *conn) emitCreds(force bool) {
	if c.client.Store.ID == nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()
	data, err := snapshotDevice(ctx, c.path)
	if err != nil {
		c.log.Warn().Err(err).Msg("device snapshot failed")
		return
	}
	sum := digest(data)
	c.snapMu.Lock()
	changed := sum != c.lastSnap
	c.lastSnap = sum
	c.snapMu.Unlock()
	if !changed && !force {
		return
	}
	c.emit(channel.Event{Kind: channel.EventCredsUpdated, Creds: data})
}

func (c *conn) snapshotLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			if c.client.IsLoggedIn() {
				c.emitCreds(false)
			}
		}
	}
}

func (c *conn) sendMessage(ctx context.Context, to string, msg *waE2E.Message) (channel.SendResult, error) {
	jid, err := parseJID(to)
	if err != nil {
		return channel.SendResult{}, err
	}
	resp, err := c.client.SendMessage(ctx, jid, msg)
	if err != nil {
		return channel.SendResult{}, err
	}
	return channel.SendResult{ID: resp.ID, To: jid.String(), Timestamp: resp.Timestamp}, nil
}

func (c *conn) SendText(ctx context.Context, to, text string) (channel.SendResult, error) {
	return c.sendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
}

func (c *conn) SendMedia(ctx context.Context, to string, media channel.Media) (channel.SendResult, error) {
	up, err := c.client.Upload(ctx, media.Data, uploadType(media.Kind))
	if err != nil {
		return channel.SendResult{}, fmt.Errorf("upload: %w", err)
	}
	return c.sendMessage(ctx, to, buildMediaMessage(media, up))
}

func (c *conn) SendButtons(ctx context.Context, to string, b channel.Buttons) (channel.SendResult, error) {
	return c.sendMessage(ctx, to, buildButtonsMessage(b))
}

func (c *conn) CreateGroup(ctx context.Context, subject string, participants []string) (channel.GroupInfo, error) {
	jids, err := parseJIDs(participants)
	if err != nil {
		return channel.GroupInfo{}, err
	}
	info, err := c.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{Name: subject, Participants: jids})
	if err != nil {
		return channel.GroupInfo{}, err
	}
	out := channel.GroupInfo{JID: info.JID.String(), Subject: info.Name, Owner: info.OwnerJID.String()}
	for _, p := range info.Participants {
		out.Participants = append(out.Participants, p.JID.String())
	}
	return out, nil
}

func (c *conn) UpdateParticipants(ctx context.Context, group string, participants []string, action channel.ParticipantAction) ([]channel.ParticipantResult, error) {
	gjid, err := parseJID(group)
	if err != nil {
		return nil, err
	}
	jids, err := parseJIDs(participants)
	if err != nil {
		return nil, err
	}
	change, err := participantChange(action)
	if err != nil {
		return nil, err
	}
	res, err := c.client.UpdateGroupParticipants(ctx, gjid, jids, change)
	if err != nil {
		return nil, err
	}
	out := make([]channel.ParticipantResult, 0, len(res))
	for _, p := range res {
		status := 200
		if p.Error != 0 {
			status = p.Error
		}
		out = append(out, channel.ParticipantResult{JID: p.JID.String(), Status: status})
	}
	return out, nil
}

func (c *conn) UpdateBlocklist(ctx context.Context, jid string, block bool) error {
	target, err := parseJID(jid)
	if err != nil {
		return err
	}
	action := events.BlocklistChangeActionUnblock
	if block {
		action = events.BlocklistChangeActionBlock
	}
	_, err = c.client.UpdateBlocklist(ctx, target, action)
	return err
}

func (c *conn) SendPresence(ctx context.Context, u channel.PresenceUpdate) error {
	if u.To == "" {
		state := types.PresenceAvailable
		if u.State == channel.PresenceUnavailable {
			state = types.PresenceUnavailable
		}
		return c.client.SendPresence(ctx, state)
	}
	jid, err := parseJID(u.To)
	if err != nil {
		return err
	}
	state, media, err := chatPresence(u.State)
	if err != nil {
		return err
	}
	return c.client.SendChatPresence(ctx, jid, state, media)
}

// MarkRead sends one receipt per chat and sender pair.
func (c *conn) MarkRead(ctx context.Context, keys []channel.MessageKey) error {
	type group struct{ chat, sender string }
	batches := map[group][]types.MessageID{}
	var order []group
	for _, k := range keys {
		g := group{k.Chat, k.Sender}
		if _, ok := batches[g]; !ok {
			order = append(order, g)
		}
		batches[g] = append(batches[g], k.ID)
	}
	now := time.Now()
	for _, g := range order {
		chat, err := parseJID(g.chat)
		if err != nil {
			return err
		}
		var sender types.JID
		if g.sender != "" {
			if sender, err = parseJID(g.sender); err != nil {
				return err
			}
		}
		if err := c.client.MarkRead(ctx, batches[g], now, chat, sender); err != nil {
			return err
		}
	}
	return nil
}

func (c *conn) SetStatus(ctx context.Context, text string) error {
	return c.client.SetStatusMessage(ctx, text)
}

func (c *conn) SetName(ctx context.Context, name string) error {
	return c.client.SendAppState(ctx, appstate.BuildSettingPushName(name))
}

func (c *conn) Download(ctx context.Context, ref channel.MediaRef) ([]byte, error) {
	return c.client.Download(ctx, downloadable(ref))
}

func (c *conn) CheckNumbers(ctx context.Context, phones []string) ([]channel.NumberStatus, error) {
	query := make([]string, 0, len(phones))
	for _, p := range phones {
		if !strings.HasPrefix(p, "+") {
			p = "+" + p
		}
		query = append(query, p)
	}
	res, err := c.client.IsOnWhatsApp(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]channel.NumberStatus, 0, len(res))
	for _, r := range res {
		st := channel.NumberStatus{Query: r.Query, Exists: r.IsIn}
		if r.IsIn {
			st.JID = r.JID.String()
		}
		out = append(out, st)
	}
	return out, nil
}

func (c *conn) Logout(ctx context.Context) error {
	return c.client.Logout(ctx)
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		c.client.Disconnect()
		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
		err = c.container.Close()
	})
	return err
}
